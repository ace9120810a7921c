package feedback

import (
	"math/bits"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"alma.local/greybox/executor"
	"alma.local/greybox/observer"
)

// TimeMode selects the rule TimeFeedback applies.
type TimeMode string

const (
	// TimeRecord never flags an execution on its own; the duration is only
	// tracked so corpus entries can carry it.
	TimeRecord TimeMode = "record"
	// TimeBucket flags executions whose log2 microsecond bucket is new.
	TimeBucket TimeMode = "bucket"
)

func ParseTimeMode(s string) (TimeMode, error) {
	switch TimeMode(s) {
	case TimeRecord, TimeBucket:
		return TimeMode(s), nil
	}
	return "", errors.Errorf("unknown time feedback mode %q", s)
}

const timeBuckets = 64

// TimeFeedback judges executions by their duration.
type TimeFeedback struct {
	name string
	mode TimeMode
	seen *bitset.BitSet
}

func NewTimeFeedback(name string, mode TimeMode) *TimeFeedback {
	return &TimeFeedback{name: name, mode: mode, seen: bitset.New(timeBuckets)}
}

func timeBucket(obs observer.Observations) uint {
	us := obs.Time.Elapsed.Microseconds()
	if us < 0 {
		us = 0
	}
	return uint(bits.Len64(uint64(us)))
}

func (f *TimeFeedback) Name() string { return f.name }

func (f *TimeFeedback) IsInteresting(obs observer.Observations, _ executor.Outcome) bool {
	if f.mode != TimeBucket {
		return false
	}
	return !f.seen.Test(timeBucket(obs))
}

func (f *TimeFeedback) Commit(obs observer.Observations) {
	f.seen.Set(timeBucket(obs))
}

func (f *TimeFeedback) MarshalState() ([]byte, error) {
	return f.seen.MarshalBinary()
}

func (f *TimeFeedback) UnmarshalState(data []byte) error {
	seen := new(bitset.BitSet)
	if err := seen.UnmarshalBinary(data); err != nil {
		return err
	}
	f.seen = seen
	return nil
}
