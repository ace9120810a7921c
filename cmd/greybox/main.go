// Command greybox runs a coverage-guided fuzzing campaign against one of the
// targets linked into it. The process started by the user is the supervisor;
// it re-executes itself as the worker that does the fuzzing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"alma.local/greybox/config"
	"alma.local/greybox/engine"
	"alma.local/greybox/restart"
	"alma.local/greybox/targets"
	_ "alma.local/greybox/targets/vuln"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-h" || args[0] == "-help" || args[0] == "--help") {
		fmt.Fprintf(os.Stderr, "usage: %s [flags]\n\ntargets: %v\n\n", os.Args[0], targets.Names())
		config.Usage(os.Args[0], os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Parse(os.Args[0], args)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logrus.SetLevel(cfg.Level())
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if restart.IsWorker() {
		os.Exit(worker(cfg))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logrus.WithField("role", "supervisor")
	if err := engine.RunSupervisor(ctx, cfg, args, log); err != nil {
		log.WithError(err).Error("campaign failed")
		os.Exit(1)
	}
}

func worker(cfg config.Config) int {
	// Ctrl-C reaches the whole process group; only the supervisor reacts and
	// relays the shutdown over RPC.
	signal.Ignore(os.Interrupt)

	log := logrus.WithFields(logrus.Fields{"role": "worker", "pid": os.Getpid()})
	target, err := targets.Lookup(cfg.Target)
	if err != nil {
		log.WithError(err).Error("lookup target")
		return restart.ExitFatal
	}
	return engine.RunWorker(context.Background(), cfg, target, os.Getenv(restart.EnvAddr), log)
}
