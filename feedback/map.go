package feedback

import (
	"github.com/bits-and-blooms/bitset"

	"alma.local/greybox/executor"
	"alma.local/greybox/observer"
	"alma.local/greybox/tracer"
)

// MapFeedback flags executions that reach an (edge, hit class) pair never
// seen before in the campaign.
type MapFeedback struct {
	name string
	seen *bitset.BitSet
}

func NewMapFeedback(name string) *MapFeedback {
	return &MapFeedback{
		name: name,
		seen: bitset.New(tracer.MapSize * observer.Classes),
	}
}

func pairIndex(p observer.Pair) uint {
	return uint(p.Edge)*observer.Classes + uint(p.Class-1)
}

func (f *MapFeedback) Name() string { return f.name }

func (f *MapFeedback) IsInteresting(obs observer.Observations, _ executor.Outcome) bool {
	return f.NovelPairs(obs) > 0
}

// NovelPairs counts the pairs of obs that are not in the seen set yet.
func (f *MapFeedback) NovelPairs(obs observer.Observations) int {
	n := 0
	for _, p := range obs.Coverage.Pairs {
		if p.Class == 0 {
			continue
		}
		if !f.seen.Test(pairIndex(p)) {
			n++
		}
	}
	return n
}

func (f *MapFeedback) Commit(obs observer.Observations) {
	for _, p := range obs.Coverage.Pairs {
		if p.Class == 0 {
			continue
		}
		f.seen.Set(pairIndex(p))
	}
}

// Seen is the number of distinct pairs observed so far.
func (f *MapFeedback) Seen() int {
	return int(f.seen.Count())
}

func (f *MapFeedback) MarshalState() ([]byte, error) {
	return f.seen.MarshalBinary()
}

func (f *MapFeedback) UnmarshalState(data []byte) error {
	seen := new(bitset.BitSet)
	if err := seen.UnmarshalBinary(data); err != nil {
		return err
	}
	f.seen = seen
	return nil
}
