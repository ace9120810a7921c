// Package feedback decides whether an execution is worth keeping
// (interestingness) and, separately, whether it is a bug (objective).
package feedback

import (
	"github.com/pkg/errors"

	"alma.local/greybox/executor"
	"alma.local/greybox/observer"
)

// Feedback judges one execution.
//
// IsInteresting must not change history; Commit folds an accepted execution
// into it. Keeping the two apart lets an OR-combination evaluate every member
// before deciding anything.
type Feedback interface {
	Name() string
	IsInteresting(obs observer.Observations, outcome executor.Outcome) bool
	Commit(obs observer.Observations)
}

// Stateful feedbacks carry history that survives worker restarts.
type Stateful interface {
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// Composite is implemented by combinators so history can be walked.
type Composite interface {
	Members() []Feedback
}

// Walk visits fb and every nested member, depth first.
func Walk(fb Feedback, visit func(Feedback)) {
	visit(fb)
	if c, ok := fb.(Composite); ok {
		for _, m := range c.Members() {
			Walk(m, visit)
		}
	}
}

// SaveStates collects the history of every stateful feedback, keyed by name.
func SaveStates(fbs ...Feedback) (map[string][]byte, error) {
	out := make(map[string][]byte)
	var err error
	for _, fb := range fbs {
		Walk(fb, func(f Feedback) {
			s, ok := f.(Stateful)
			if !ok || err != nil {
				return
			}
			if _, dup := out[f.Name()]; dup {
				err = errors.Errorf("duplicate feedback name %q", f.Name())
				return
			}
			var data []byte
			data, err = s.MarshalState()
			if err != nil {
				err = errors.Wrapf(err, "save %s", f.Name())
				return
			}
			out[f.Name()] = data
		})
	}
	return out, err
}

// RestoreStates is the inverse of SaveStates. Feedbacks missing from states
// keep their fresh history.
func RestoreStates(states map[string][]byte, fbs ...Feedback) error {
	var err error
	for _, fb := range fbs {
		Walk(fb, func(f Feedback) {
			s, ok := f.(Stateful)
			if !ok || err != nil {
				return
			}
			data, ok := states[f.Name()]
			if !ok {
				return
			}
			if uerr := s.UnmarshalState(data); uerr != nil {
				err = errors.Wrapf(uerr, "restore %s", f.Name())
			}
		})
	}
	return err
}
