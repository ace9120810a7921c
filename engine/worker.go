// Package engine assembles the components of a campaign into the two
// process roles: the supervisor and the fuzzing worker.
package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"alma.local/greybox/config"
	"alma.local/greybox/corpus"
	"alma.local/greybox/executor"
	"alma.local/greybox/feedback"
	"alma.local/greybox/fuzzer"
	"alma.local/greybox/generator"
	"alma.local/greybox/internal/osutil"
	"alma.local/greybox/internal/shmem"
	"alma.local/greybox/observer"
	"alma.local/greybox/restart"
	"alma.local/greybox/tracer"
)

// RunWorker runs one worker lifetime against target and returns the process
// exit code the supervisor expects. With an empty addr the worker runs
// without a supervisor.
func RunWorker(ctx context.Context, cfg config.Config, target executor.Target, addr string, log *logrus.Entry) int {
	if log == nil {
		log = logrus.WithField("role", "worker")
	}
	code, err := runWorker(ctx, cfg, target, addr, log)
	switch {
	case err == nil:
	case code == restart.ExitStateRestore:
		log.WithError(err).Error("cannot restore campaign state")
	case code == restart.ExitFatal:
		log.WithError(err).Error("worker failed")
	}
	return code
}

func runWorker(ctx context.Context, cfg config.Config, target executor.Target, addr string, log *logrus.Entry) (int, error) {
	if err := osutil.MkdirAll(cfg.WorkDir); err != nil {
		return restart.ExitFatal, errors.Wrap(err, "work dir")
	}
	crashes, err := corpus.OpenCrashStore(cfg.CrashDir, cfg.Target)
	if err != nil {
		return restart.ExitFatal, err
	}
	region, err := shmem.Open(filepath.Join(cfg.WorkDir, restart.InflightFile))
	if err != nil {
		return restart.ExitFatal, err
	}
	defer region.Close()

	var (
		client   *restart.Client
		reporter fuzzer.Reporter
		restarts uint64
	)
	if addr != "" {
		if client, err = restart.Dial(addr); err != nil {
			return restart.ExitFatal, err
		}
		defer client.Close()
		res, err := client.Connect()
		if err != nil {
			return restart.ExitFatal, err
		}
		reporter, restarts = client, res.Restarts
		log = log.WithField("worker", res.ID)
	}

	mode, err := feedback.ParseTimeMode(cfg.TimeFeedback)
	if err != nil {
		return restart.ExitFatal, err
	}
	edges := feedback.NewMapFeedback("edges")
	fb := feedback.Or(edges, feedback.NewTimeFeedback("time", mode))
	objective := feedback.OrFast(feedback.NewCrashFeedback(), feedback.NewTimeoutFeedback())

	ckpt := filepath.Join(cfg.WorkDir, restart.CheckpointFile)
	state, err := fuzzer.LoadCheckpoint(ckpt, crashes, fb, objective)
	if err != nil {
		return restart.ExitStateRestore, err
	}
	if state == nil {
		state = fuzzer.NewState(cfg.Seed(), crashes)
		log.WithField("crashes", crashes.Dir()).Info("starting a fresh campaign")
	} else {
		log.WithFields(logrus.Fields{
			"corpus":     state.Corpus.Len(),
			"executions": state.Executions,
			"objectives": state.Objectives,
			"crashes":    crashes.Dir(),
		}).Info("resumed campaign from checkpoint")
	}
	if restarts > state.Restarts {
		state.Restarts = restarts
	}

	cov := observer.NewCoverageObserver("edges", observer.MapFunc(tracer.Edges))
	tm := observer.NewTimeObserver("time")
	exec := executor.NewInProcessExecutor(target, executor.Options{
		Timeout:   cfg.Timeout,
		Observers: []observer.Observer{cov, tm},
		Inflight:  region,
		Log:       log.WithField("component", "executor"),
	})

	f, err := fuzzer.New(fuzzer.Config{
		Iterations:         cfg.Iterations,
		SeedCount:          cfg.SeedCount,
		SeedDir:            cfg.SeedDir,
		ForceSeeds:         cfg.ForceSeeds,
		MaxStackPow:        cfg.MaxStackPow,
		ReportInterval:     cfg.ReportInterval,
		CheckpointInterval: cfg.CheckpointInterval,
		CheckpointPath:     ckpt,
	}, state, fuzzer.Parts{
		Executor:  exec,
		Coverage:  cov,
		Time:      tm,
		Feedback:  fb,
		Objective: objective,
		Edges:     edges,
		Generator: generator.NewRandBytes(cfg.SeedLength),
		Reporter:  reporter,
		Log:       log.WithField("component", "fuzzer"),
	})
	if err != nil {
		return restart.ExitFatal, err
	}

	if err := recordHandoff(f, cfg.WorkDir); err != nil {
		return restart.ExitFatal, err
	}

	err = f.Run(ctx)
	switch {
	case err == nil, errors.Is(err, fuzzer.ErrShutdown):
		return restart.ExitDone, nil
	case errors.Is(err, fuzzer.ErrRestart):
		// A timed out run leaves its input published; it is recorded already.
		region.Clear()
		return restart.ExitRestart, nil
	default:
		return restart.ExitFatal, err
	}
}

// recordHandoff stores the input a previous worker died on, if any.
func recordHandoff(f *fuzzer.Fuzzer, workDir string) error {
	dataPath := filepath.Join(workDir, restart.FaultFile)
	kindPath := filepath.Join(workDir, restart.FaultKindFile)
	data, err := os.ReadFile(dataPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read fault input")
	}

	outcome := executor.Crashed
	if raw, err := os.ReadFile(kindPath); err == nil {
		if o, err := executor.ParseOutcome(string(raw)); err == nil {
			outcome = o
		}
	}
	reason := "worker process died"
	if outcome == executor.TimedOut {
		reason = "worker killed by watchdog"
	}
	if err := f.RecordFault(data, outcome, reason); err != nil {
		return err
	}
	for _, p := range []string{dataPath, kindPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "remove fault handoff")
		}
	}
	return nil
}
