package executor

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"alma.local/greybox/input"
	"alma.local/greybox/observer"
	"alma.local/greybox/tracer"
)

// DefaultTimeout is the per-execution wall-clock budget.
const DefaultTimeout = 10 * time.Second

// Options configures an InProcessExecutor.
type Options struct {
	Timeout   time.Duration
	Observers []observer.Observer
	Inflight  Inflight
	// Reset clears the coverage map before each run. Defaults to tracer.Reset.
	Reset func()
	Log   *logrus.Entry
}

// FaultInfo describes the last fault seen by the executor.
type FaultInfo struct {
	Outcome Outcome
	Reason  string
	Stack   []byte
}

type callResult struct {
	found  bool
	panic  any
	stack  []byte
	failed bool
}

// InProcessExecutor calls the target on a fresh goroutine of the current
// process. A panic becomes Crashed, exceeding the timeout becomes TimedOut.
// After either the executor is poisoned: the hung or corrupted goroutine may
// still be alive, so the owning process has to be restarted.
type InProcessExecutor struct {
	target    Target
	timeout   time.Duration
	observers []observer.Observer
	inflight  Inflight
	reset     func()
	log       *logrus.Entry

	scratch  []byte
	poisoned bool
	last     FaultInfo
	calls    uint64
}

// NewInProcessExecutor creates an executor for target.
func NewInProcessExecutor(target Target, opts Options) *InProcessExecutor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Reset == nil {
		opts.Reset = tracer.Reset
	}
	if opts.Log == nil {
		opts.Log = logrus.WithField("component", "executor")
	}
	return &InProcessExecutor{
		target:    target,
		timeout:   opts.Timeout,
		observers: opts.Observers,
		inflight:  opts.Inflight,
		reset:     opts.Reset,
		log:       opts.Log,
	}
}

// Run executes one input and returns its outcome.
func (e *InProcessExecutor) Run(in input.Input) (Outcome, error) {
	if e.poisoned {
		return e.last.Outcome, ErrNeedsRestart
	}

	e.reset()
	for _, o := range e.observers {
		o.PreExec()
	}
	outcome := e.harness(in)
	for _, o := range e.observers {
		o.PostExec()
	}

	if outcome.Fault() {
		e.poisoned = true
	}
	return outcome, nil
}

// Calls is the number of times the target was actually invoked.
func (e *InProcessExecutor) Calls() uint64 {
	return e.calls
}

// LastFault returns details about the fault that poisoned the executor.
func (e *InProcessExecutor) LastFault() FaultInfo {
	return e.last
}

// Poisoned reports whether a fault requires a restart.
func (e *InProcessExecutor) Poisoned() bool {
	return e.poisoned
}

func (e *InProcessExecutor) harness(in input.Input) Outcome {
	if len(in) <= MinLen {
		return Normal
	}

	// The target gets its own copy: whatever it scribbles must not leak into
	// the input that is later stored as a corpus entry or crash record.
	e.scratch = append(e.scratch[:0], in...)
	magic, payload := Split(e.scratch)

	if e.inflight != nil {
		e.inflight.Begin(in)
	}
	e.calls++

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{panic: r, stack: debug.Stack(), failed: true}
			}
		}()
		found := e.target.Call(magic, payload)
		done <- callResult{found: found}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if e.inflight != nil {
			e.inflight.End()
		}
		if res.failed {
			e.last = FaultInfo{Outcome: Crashed, Reason: fmt.Sprint(res.panic), Stack: res.stack}
			return Crashed
		}
		if res.found {
			e.log.WithField("input", in.String()).Debug("target reported true")
		}
		return Normal
	case <-timer.C:
		// The in-flight record is left in place: the goroutine is still
		// running the input and the process is about to be replaced.
		e.last = FaultInfo{Outcome: TimedOut, Reason: fmt.Sprintf("no return within %v", e.timeout)}
		return TimedOut
	}
}
