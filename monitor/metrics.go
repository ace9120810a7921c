package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports campaign totals as Prometheus gauges.
type Metrics struct {
	executions prometheus.Gauge
	iterations prometheus.Gauge
	objectives prometheus.Gauge
	corpus     prometheus.Gauge
	edges      prometheus.Gauge
	restarts   prometheus.Gauge
}

// NewMetrics registers the campaign gauges with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "greybox",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(g)
		return g
	}
	return &Metrics{
		executions: gauge("executions_total", "Target executions across the campaign."),
		iterations: gauge("iterations_total", "Mutation iterations across the campaign."),
		objectives: gauge("objectives_total", "Crashing or hanging inputs recorded."),
		corpus:     gauge("corpus_size", "Entries in the in-memory corpus."),
		edges:      gauge("edges_seen", "Distinct (edge, hit class) pairs seen."),
		restarts:   gauge("worker_restarts_total", "Worker processes replaced after a fault."),
	}
}

// Observe publishes the latest totals.
func (m *Metrics) Observe(s ClientStats, restarts uint64) {
	m.executions.Set(float64(s.Executions))
	m.iterations.Set(float64(s.Iterations))
	m.objectives.Set(float64(s.Objectives))
	m.corpus.Set(float64(s.Corpus))
	m.edges.Set(float64(s.Edges))
	m.restarts.Set(float64(restarts))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "serve metrics on %s", addr)
	}
}
