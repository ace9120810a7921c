// Package executor runs the target for one input under a hard timeout and
// classifies what happened.
package executor

import (
	"github.com/pkg/errors"
)

// Outcome classifies one execution. Exactly one is produced per run.
type Outcome int

const (
	Normal Outcome = iota
	Crashed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Normal:
		return "normal"
	case Crashed:
		return "crashed"
	case TimedOut:
		return "timeout"
	default:
		return "unknown"
	}
}

// Fault reports whether the outcome is a target fault.
func (o Outcome) Fault() bool {
	return o == Crashed || o == TimedOut
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "normal":
		return Normal, nil
	case "crashed":
		return Crashed, nil
	case "timeout":
		return TimedOut, nil
	}
	return Normal, errors.Errorf("unknown outcome %q", s)
}

// Target is the function under test. It consumes a magic prefix and a payload
// and may panic, hang or return. Its return value is not used as feedback.
type Target interface {
	Call(magic, payload []byte) bool
}

// TargetFunc adapts a plain function to Target.
type TargetFunc func(magic, payload []byte) bool

func (f TargetFunc) Call(magic, payload []byte) bool { return f(magic, payload) }

const (
	// MagicLen is the length of the prefix handed to the target as magic.
	MagicLen = 3
	// MinLen is the largest input length that never reaches the target.
	MinLen = 4
)

// Split divides a buffer into the magic prefix and the payload. The magic
// slice has its capacity clipped so appends cannot spill into the payload.
func Split(data []byte) (magic, payload []byte) {
	return data[:MagicLen:MagicLen], data[MagicLen:]
}

// Inflight receives the input that is about to reach the target so that it
// survives if the process dies during the call.
type Inflight interface {
	Begin(data []byte)
	End()
}

// ErrNeedsRestart is returned once the executor has seen a fault: the
// process may be corrupted and must be replaced before running anything else.
var ErrNeedsRestart = errors.New("executor needs restart after target fault")
