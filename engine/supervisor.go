package engine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"alma.local/greybox/config"
	"alma.local/greybox/monitor"
	"alma.local/greybox/restart"
)

// RunSupervisor runs the supervisor role until the campaign ends. Workers
// are started from this executable with args.
func RunSupervisor(ctx context.Context, cfg config.Config, args []string, log *logrus.Entry) error {
	if log == nil {
		log = logrus.WithField("role", "supervisor")
	}
	reg := prometheus.NewRegistry()
	mon := monitor.New("greybox", log, monitor.NewMetrics(reg))
	sup := restart.NewSupervisor(restart.Config{
		Port:           cfg.Port,
		WorkDir:        cfg.WorkDir,
		Timeout:        cfg.Timeout,
		ReportInterval: cfg.ReportInterval,
		Args:           args,
	}, mon, log)

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(metricsCtx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
			return monitor.Serve(gctx, cfg.MetricsAddr, reg)
		})
	}
	g.Go(func() error {
		defer stopMetrics()
		return sup.Run(ctx)
	})
	return g.Wait()
}
