// Package fuzzer drives a campaign: it bootstraps the corpus, then loops
// over select, mutate, execute, observe and evaluate until a budget, a
// shutdown request or a fault ends the worker.
package fuzzer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"alma.local/greybox/corpus"
	"alma.local/greybox/executor"
	"alma.local/greybox/feedback"
	"alma.local/greybox/generator"
	"alma.local/greybox/input"
	"alma.local/greybox/monitor"
	"alma.local/greybox/mutator"
	"alma.local/greybox/observer"
)

var (
	// ErrCorpusExhausted means bootstrap left the corpus empty, so there is
	// nothing to mutate.
	ErrCorpusExhausted = errors.New("corpus is empty after bootstrap")
	// ErrShutdown means the supervisor asked the worker to stop.
	ErrShutdown = errors.New("shutdown requested")
	// ErrRestart means an objective was recorded and the execution context
	// has to be replaced.
	ErrRestart = errors.New("restart required after objective")
)

// Phase is the lifecycle stage of a Fuzzer.
type Phase int

const (
	Bootstrapping Phase = iota
	Running
	Terminating
)

func (p Phase) String() string {
	switch p {
	case Bootstrapping:
		return "bootstrapping"
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Result is what evaluating one input did to the campaign.
type Result int

const (
	Discarded Result = iota
	AddedToCorpus
	Objective
)

func (r Result) String() string {
	switch r {
	case AddedToCorpus:
		return "corpus"
	case Objective:
		return "objective"
	default:
		return "discarded"
	}
}

// Executor runs one input against the target.
type Executor interface {
	Run(in input.Input) (executor.Outcome, error)
	LastFault() executor.FaultInfo
}

// Reporter forwards progress to whoever supervises the worker. The returned
// flag asks the worker to shut down.
type Reporter interface {
	Report(s monitor.ClientStats) (shutdown bool, err error)
}

// Config holds the loop parameters.
type Config struct {
	Iterations         uint64 // 0 runs until shutdown
	SeedCount          int
	SeedDir            string
	ForceSeeds         bool
	MaxStackPow        int
	ReportInterval     time.Duration
	CheckpointInterval time.Duration
	// CheckpointPath is where the state is saved. Empty disables checkpoints.
	CheckpointPath string
}

// Parts are the collaborators of a Fuzzer.
type Parts struct {
	Executor  Executor
	Coverage  *observer.CoverageObserver
	Time      *observer.TimeObserver
	Feedback  feedback.Feedback
	Objective feedback.Feedback
	// Edges, when set, is the map feedback nested in Feedback. It is only
	// read, to attribute new pairs to corpus entries.
	Edges     *feedback.MapFeedback
	Scheduler corpus.Scheduler
	Generator *generator.RandBytes
	Reporter  Reporter
	Log       *logrus.Entry
}

// Fuzzer owns the State of one worker and the components acting on it.
type Fuzzer struct {
	cfg   Config
	state *State
	parts Parts
	havoc *mutator.Havoc
	log   *logrus.Entry
	now   func() time.Time

	phase          Phase
	start          time.Time
	lastReport     time.Time
	lastCheckpoint time.Time
}

// New wires a fuzzer around state.
func New(cfg Config, state *State, parts Parts) (*Fuzzer, error) {
	switch {
	case state == nil:
		return nil, errors.New("fuzzer: nil state")
	case state.Crashes == nil:
		return nil, errors.New("fuzzer: state has no crash store")
	case parts.Executor == nil:
		return nil, errors.New("fuzzer: nil executor")
	case parts.Feedback == nil || parts.Objective == nil:
		return nil, errors.New("fuzzer: feedback and objective are required")
	}
	if parts.Scheduler == nil {
		parts.Scheduler = corpus.RandScheduler{}
	}
	if parts.Generator == nil {
		parts.Generator = generator.NewRandBytes(generator.DefaultLength)
	}
	if parts.Log == nil {
		parts.Log = logrus.WithField("component", "fuzzer")
	}
	if cfg.MaxStackPow <= 0 {
		cfg.MaxStackPow = mutator.DefaultMaxStackPow
	}

	f := &Fuzzer{
		cfg:   cfg,
		state: state,
		parts: parts,
		log:   parts.Log,
		now:   time.Now,
	}
	f.havoc = mutator.NewHavoc(
		mutator.WithDonors(corpusDonors{state.Corpus}),
		mutator.WithMaxStackPow(cfg.MaxStackPow),
	)
	return f, nil
}

type corpusDonors struct{ c *corpus.InMemory }

func (d corpusDonors) Len() int { return d.c.Len() }

func (d corpusDonors) Donor(idx int) []byte { return d.c.Entries()[idx].Input }

func (f *Fuzzer) State() *State { return f.state }

func (f *Fuzzer) Phase() Phase { return f.phase }

// Run bootstraps and then fuzzes until the iteration budget is spent.
// ErrShutdown and ErrRestart are returned as is; every other error is fatal.
func (f *Fuzzer) Run(ctx context.Context) error {
	f.start = f.now()
	f.lastReport = f.start
	f.lastCheckpoint = f.start

	err := f.Bootstrap(ctx)
	if err == nil {
		err = f.Loop(ctx)
	}
	f.terminate(err)
	return err
}

// Bootstrap fills an empty corpus from the seed directory and the generator.
// Progress is checkpointed before each candidate runs, so a worker that dies
// on a seed does not retry it. The supervisor is polled between candidates.
func (f *Fuzzer) Bootstrap(ctx context.Context) error {
	f.phase = Bootstrapping
	s := f.state

	var seeds []input.Input
	if f.cfg.SeedDir != "" {
		var err error
		if seeds, err = corpus.LoadDir(f.cfg.SeedDir); err != nil {
			return err
		}
	}
	total := len(seeds) + f.cfg.SeedCount
	if s.SeedsTried >= total {
		return f.checkNotEmpty()
	}

	f.log.WithFields(logrus.Fields{
		"seed_files": len(seeds),
		"generate":   f.cfg.SeedCount,
		"resume_at":  s.SeedsTried,
	}).Info("bootstrapping corpus")

	for s.SeedsTried < total {
		if err := ctx.Err(); err != nil {
			return ErrShutdown
		}
		if err := f.poll(); err != nil {
			return err
		}
		var in input.Input
		if s.SeedsTried < len(seeds) {
			in = seeds[s.SeedsTried]
		} else {
			in = f.parts.Generator.Generate(s.Rand)
		}
		s.SeedsTried++
		if err := f.checkpoint(); err != nil {
			return err
		}

		res, err := f.evaluate(in, 0, true)
		if err != nil {
			return err
		}
		if res == Objective {
			return ErrRestart
		}
	}
	if err := f.checkpoint(); err != nil {
		return err
	}
	return f.checkNotEmpty()
}

func (f *Fuzzer) checkNotEmpty() error {
	if f.state.Corpus.Len() == 0 {
		return errors.Wrapf(ErrCorpusExhausted, "%d seed candidates tried", f.state.SeedsTried)
	}
	return nil
}

// Loop runs mutation iterations until the budget is spent.
func (f *Fuzzer) Loop(ctx context.Context) error {
	f.phase = Running
	s := f.state
	if err := f.report(); err != nil {
		return err
	}

	for f.cfg.Iterations == 0 || s.Iterations < f.cfg.Iterations {
		if err := ctx.Err(); err != nil {
			return ErrShutdown
		}

		idx, err := f.parts.Scheduler.Next(s.Corpus, s.Rand)
		if err != nil {
			return errors.Wrap(ErrCorpusExhausted, err.Error())
		}
		parent, err := s.Corpus.Get(idx)
		if err != nil {
			return err
		}
		child := f.havoc.Mutate(parent.Input, s.Rand)
		s.Iterations++

		res, err := f.evaluate(child, parent.Input.ID(), false)
		if err != nil {
			return err
		}
		if res == Objective {
			return ErrRestart
		}

		now := f.now()
		if res == AddedToCorpus || (f.cfg.CheckpointInterval > 0 && now.Sub(f.lastCheckpoint) >= f.cfg.CheckpointInterval) {
			if err := f.checkpoint(); err != nil {
				return err
			}
		}
		if f.cfg.ReportInterval > 0 && now.Sub(f.lastReport) >= f.cfg.ReportInterval {
			if err := f.report(); err != nil {
				return err
			}
		}
	}
	f.log.WithField("iterations", s.Iterations).Info("iteration budget exhausted")
	return nil
}

// Evaluate runs in and folds the result into the campaign.
func (f *Fuzzer) Evaluate(in input.Input) (Result, error) {
	return f.evaluate(in, 0, false)
}

func (f *Fuzzer) evaluate(in input.Input, parent uint64, seed bool) (Result, error) {
	s := f.state
	outcome, err := f.parts.Executor.Run(in)
	if err != nil {
		return Discarded, errors.Wrap(err, "execute")
	}
	s.Executions++
	obs := observer.Collect(f.parts.Coverage, f.parts.Time)

	// Objectives are decided first and never enter the corpus.
	if f.parts.Objective.IsInteresting(obs, outcome) {
		fault := f.parts.Executor.LastFault()
		rec := corpus.CrashRecord{
			Data:      in.Clone(),
			Outcome:   outcome,
			Reason:    fault.Reason,
			Stack:     string(fault.Stack),
			Iteration: s.Iterations,
			Found:     f.now(),
		}
		if _, err := s.Crashes.Save(rec); err != nil {
			return Discarded, err
		}
		f.parts.Objective.Commit(obs)
		s.Objectives++
		f.log.WithFields(logrus.Fields{
			"outcome": outcome,
			"input":   in.String(),
			"reason":  fault.Reason,
		}).Warn("objective found")
		return Objective, f.checkpoint()
	}

	interesting := f.parts.Feedback.IsInteresting(obs, outcome)
	if !interesting && !(seed && f.cfg.ForceSeeds) {
		return Discarded, nil
	}

	novel := 0
	if f.parts.Edges != nil {
		novel = f.parts.Edges.NovelPairs(obs)
	}
	f.parts.Feedback.Commit(obs)
	idx := s.Corpus.Add(corpus.Entry{
		Input:     in.Clone(),
		Parent:    parent,
		NewPairs:  novel,
		Edges:     obs.Coverage.Edges(),
		ExecTime:  obs.Time.Elapsed,
		Iteration: s.Iterations,
		Seed:      seed,
	})
	f.log.WithFields(logrus.Fields{
		"index":     idx,
		"input":     in.String(),
		"new_pairs": novel,
		"forced":    !interesting,
	}).Debug("corpus entry added")
	return AddedToCorpus, nil
}

// RecordFault stores an input that killed a previous worker without leaving
// a trace in the checkpoint.
func (f *Fuzzer) RecordFault(in input.Input, outcome executor.Outcome, reason string) error {
	s := f.state
	rec := corpus.CrashRecord{
		Data:      in.Clone(),
		Outcome:   outcome,
		Reason:    reason,
		Iteration: s.Iterations,
		Found:     f.now(),
	}
	if _, err := s.Crashes.Save(rec); err != nil {
		return err
	}
	s.Objectives++
	s.Reseed(in.ID())
	f.log.WithFields(logrus.Fields{
		"outcome": outcome,
		"input":   in.String(),
	}).Warn("recorded fault from previous worker")
	return f.checkpoint()
}

// Stats summarizes the worker for reporting.
func (f *Fuzzer) Stats() monitor.ClientStats {
	st := monitor.ClientStats{
		Executions: f.state.Executions,
		Iterations: f.state.Iterations,
		Objectives: f.state.Objectives,
		Corpus:     f.state.Corpus.Len(),
		Phase:      f.phase.String(),
	}
	if f.parts.Edges != nil {
		st.Edges = f.parts.Edges.Seen()
	}
	return st
}

func (f *Fuzzer) report() error {
	now := f.now()
	f.lastReport = now
	st := f.Stats()
	f.log.Info(monitor.FormatLine("worker", now.Sub(f.state.Started), 1, st, f.state.Restarts))

	if f.parts.Reporter == nil {
		return nil
	}
	shutdown, err := f.parts.Reporter.Report(st)
	if err != nil {
		return errors.Wrap(err, "report to supervisor")
	}
	if shutdown {
		return ErrShutdown
	}
	return nil
}

// poll asks the supervisor for a shutdown request without logging a
// status line.
func (f *Fuzzer) poll() error {
	if f.parts.Reporter == nil {
		return nil
	}
	shutdown, err := f.parts.Reporter.Report(f.Stats())
	if err != nil {
		return errors.Wrap(err, "report to supervisor")
	}
	if shutdown {
		return ErrShutdown
	}
	return nil
}

func (f *Fuzzer) checkpoint() error {
	f.lastCheckpoint = f.now()
	if f.cfg.CheckpointPath == "" {
		return nil
	}
	return errors.Wrap(SaveCheckpoint(f.cfg.CheckpointPath, f.state, f.parts.Feedback, f.parts.Objective), "checkpoint")
}

func (f *Fuzzer) terminate(cause error) {
	f.phase = Terminating
	if err := f.checkpoint(); err != nil {
		f.log.WithError(err).Error("final checkpoint failed")
	}
	if errors.Is(cause, ErrShutdown) || cause == nil {
		if f.parts.Reporter != nil {
			if _, err := f.parts.Reporter.Report(f.Stats()); err != nil {
				f.log.WithError(err).Debug("final report not delivered")
			}
		}
	}
	f.log.WithFields(logrus.Fields{
		"executions": f.state.Executions,
		"corpus":     f.state.Corpus.Len(),
		"objectives": f.state.Objectives,
		"mutations":  f.havoc.Applied(),
	}).Info("worker terminating")
}
