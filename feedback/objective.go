package feedback

import (
	"alma.local/greybox/executor"
	"alma.local/greybox/observer"
)

// CrashFeedback fires when the target crashed.
type CrashFeedback struct{}

func NewCrashFeedback() CrashFeedback { return CrashFeedback{} }

func (CrashFeedback) Name() string { return "crash" }

func (CrashFeedback) IsInteresting(_ observer.Observations, outcome executor.Outcome) bool {
	return outcome == executor.Crashed
}

func (CrashFeedback) Commit(observer.Observations) {}

// TimeoutFeedback fires when the target exceeded its time budget.
type TimeoutFeedback struct{}

func NewTimeoutFeedback() TimeoutFeedback { return TimeoutFeedback{} }

func (TimeoutFeedback) Name() string { return "timeout" }

func (TimeoutFeedback) IsInteresting(_ observer.Observations, outcome executor.Outcome) bool {
	return outcome == executor.TimedOut
}

func (TimeoutFeedback) Commit(observer.Observations) {}
