// Package corpus keeps the interesting inputs of a campaign in memory,
// schedules the next parent, and persists crashing inputs on disk.
package corpus

import (
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"

	"alma.local/greybox/input"
)

// ErrEmpty is returned when a parent is requested from an empty corpus.
var ErrEmpty = errors.New("corpus is empty")

// Entry is an input retained because feedback found it interesting, plus
// the metadata the scheduler and reports use. Entries are never modified
// after insertion.
type Entry struct {
	Input     input.Input
	Parent    uint64 // content id of the parent, 0 for seeds
	NewPairs  int    // (edge, class) pairs first reached by this input
	Edges     int
	ExecTime  time.Duration
	Iteration uint64
	Seed      bool
}

// InMemory is an append-only corpus.
type InMemory struct {
	entries []Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

// Add appends e and returns its index.
func (c *InMemory) Add(e Entry) int {
	c.entries = append(c.entries, e)
	return len(c.entries) - 1
}

func (c *InMemory) Len() int {
	return len(c.entries)
}

func (c *InMemory) Get(idx int) (Entry, error) {
	if idx < 0 || idx >= len(c.entries) {
		return Entry{}, errors.Errorf("corpus index %d out of range [0, %d)", idx, len(c.entries))
	}
	return c.entries[idx], nil
}

// Entries exposes the backing slice. Callers must not modify it.
func (c *InMemory) Entries() []Entry {
	return c.entries
}

// Scheduler picks the index of the next parent to mutate.
type Scheduler interface {
	Next(c *InMemory, rng *rand.Rand) (int, error)
}

// RandScheduler selects uniformly among all entries.
type RandScheduler struct{}

func (RandScheduler) Next(c *InMemory, rng *rand.Rand) (int, error) {
	if c.Len() == 0 {
		return -1, ErrEmpty
	}
	return rng.IntN(c.Len()), nil
}
