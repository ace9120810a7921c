package fuzzer

import (
	"bytes"
	"encoding/gob"
	"math/rand/v2"
	"os"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"alma.local/greybox/corpus"
	"alma.local/greybox/feedback"
	"alma.local/greybox/internal/osutil"
)

const checkpointVersion = 1

// ErrStateRestore is returned when a checkpoint exists but cannot be decoded.
var ErrStateRestore = errors.New("state restore failed")

// Counters are the campaign totals carried across worker restarts.
type Counters struct {
	Executions uint64 // target runs, including inputs too short to reach it
	Iterations uint64 // mutation iterations started in the running phase
	Objectives uint64
	Restarts   uint64
	// SeedsTried counts bootstrap candidates already consumed, seed files
	// first, then generated seeds.
	SeedsTried int
}

// State is everything a worker needs to continue a campaign: the random
// source, the corpus, the crash store and the counters.
type State struct {
	Counters
	Corpus  *corpus.InMemory
	Crashes *corpus.CrashStore
	Rand    *rand.Rand
	Started time.Time

	pcg *rand.PCG
}

// NewState starts a fresh campaign seeded with seed.
func NewState(seed uint64, crashes *corpus.CrashStore) *State {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &State{
		Corpus:  corpus.NewInMemory(),
		Crashes: crashes,
		Rand:    rand.New(pcg),
		Started: time.Now(),
		pcg:     pcg,
	}
}

// Reseed mixes salt into the random source. A worker that replaces one which
// died without checkpointing would otherwise replay the same mutations.
func (s *State) Reseed(salt uint64) {
	hi, lo := s.Rand.Uint64(), s.Rand.Uint64()
	s.pcg.Seed(hi^salt, lo+salt)
}

// Checkpoint is the on-disk form of a State.
type Checkpoint struct {
	Version  int
	Rand     []byte
	Entries  []corpus.Entry
	Feedback map[string][]byte
	Counters Counters
	Started  time.Time
}

// Encode serializes the state together with the feedback states as a
// gob encoded, snappy compressed Checkpoint.
func (s *State) Encode(fbs ...feedback.Feedback) ([]byte, error) {
	rng, err := s.pcg.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "marshal random state")
	}
	states, err := feedback.SaveStates(fbs...)
	if err != nil {
		return nil, err
	}
	ck := Checkpoint{
		Version:  checkpointVersion,
		Rand:     rng,
		Entries:  s.Corpus.Entries(),
		Feedback: states,
		Counters: s.Counters,
		Started:  s.Started,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&ck); err != nil {
		return nil, errors.Wrap(err, "encode checkpoint")
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

// DecodeState rebuilds a State from the output of Encode and loads the saved
// feedback states into fbs. Every failure wraps ErrStateRestore.
func DecodeState(data []byte, crashes *corpus.CrashStore, fbs ...feedback.Feedback) (*State, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrapf(ErrStateRestore, "decompress: %v", err)
	}
	var ck Checkpoint
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&ck); err != nil {
		return nil, errors.Wrapf(ErrStateRestore, "decode: %v", err)
	}
	if ck.Version != checkpointVersion {
		return nil, errors.Wrapf(ErrStateRestore, "unsupported checkpoint version %d", ck.Version)
	}

	pcg := &rand.PCG{}
	if err := pcg.UnmarshalBinary(ck.Rand); err != nil {
		return nil, errors.Wrapf(ErrStateRestore, "random state: %v", err)
	}
	if err := feedback.RestoreStates(ck.Feedback, fbs...); err != nil {
		return nil, errors.Wrapf(ErrStateRestore, "%v", err)
	}

	c := corpus.NewInMemory()
	for _, e := range ck.Entries {
		c.Add(e)
	}
	return &State{
		Counters: ck.Counters,
		Corpus:   c,
		Crashes:  crashes,
		Rand:     rand.New(pcg),
		Started:  ck.Started,
		pcg:      pcg,
	}, nil
}

// SaveCheckpoint atomically replaces the checkpoint file at path.
func SaveCheckpoint(path string, s *State, fbs ...feedback.Feedback) error {
	data, err := s.Encode(fbs...)
	if err != nil {
		return err
	}
	return errors.Wrapf(osutil.WriteFileAtomic(path, data), "write checkpoint %s", path)
}

// LoadCheckpoint restores the state saved at path. It returns a nil State and
// no error when there is no checkpoint yet.
func LoadCheckpoint(path string, crashes *corpus.CrashStore, fbs ...feedback.Feedback) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(ErrStateRestore, "read %s: %v", path, err)
	}
	return DecodeState(data, crashes, fbs...)
}
