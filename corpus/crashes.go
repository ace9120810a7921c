package corpus

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"alma.local/greybox/executor"
	"alma.local/greybox/input"
	"alma.local/greybox/internal/osutil"
)

// ErrPersist marks a crash record that could not be made durable. Losing a
// reproducer is not acceptable, so callers treat it as fatal.
var ErrPersist = errors.New("crash record could not be persisted")

const metaSuffix = ".json"

// CrashRecord is an input that made the target crash or hang. Data is
// byte-identical to what was executed.
type CrashRecord struct {
	Data      input.Input
	Outcome   executor.Outcome
	Reason    string
	Stack     string
	Iteration uint64
	Found     time.Time
}

type crashMeta struct {
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Stack     string    `json:"stack,omitempty"`
	Size      int       `json:"size"`
	Iteration uint64    `json:"iteration"`
	Found     time.Time `json:"found"`
	Campaign  string    `json:"campaign,omitempty"`
}

// CrashStore writes each crash record as its own file, named after the
// sha256 of its content, with a JSON sidecar describing the fault.
type CrashStore struct {
	dir      string
	campaign string
	log      *logrus.Entry
}

// OpenCrashStore creates dir if needed.
func OpenCrashStore(dir, campaign string) (*CrashStore, error) {
	if err := osutil.MkdirAll(dir); err != nil {
		return nil, errors.Wrap(ErrPersist, err.Error())
	}
	return &CrashStore{
		dir:      dir,
		campaign: campaign,
		log:      logrus.WithFields(logrus.Fields{"component": "crashes", "dir": dir}),
	}, nil
}

func (s *CrashStore) Dir() string {
	return s.dir
}

// RecordName is the file name a crash with this content is stored under.
func RecordName(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// Save persists rec and returns the path of the data file. Saving the same
// bytes twice keeps a single file and refreshes its sidecar.
func (s *CrashStore) Save(rec CrashRecord) (string, error) {
	name := RecordName(rec.Data)
	path := filepath.Join(s.dir, name)

	if err := osutil.WriteFileAtomic(path, rec.Data); err != nil {
		return "", errors.Wrapf(ErrPersist, "%s: %v", path, err)
	}

	found := rec.Found
	if found.IsZero() {
		found = time.Now()
	}
	meta := crashMeta{
		Outcome:   rec.Outcome.String(),
		Reason:    rec.Reason,
		Stack:     rec.Stack,
		Size:      len(rec.Data),
		Iteration: rec.Iteration,
		Found:     found,
		Campaign:  s.campaign,
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", errors.Wrapf(ErrPersist, "marshal sidecar: %v", err)
	}
	if err := osutil.WriteFileAtomic(path+metaSuffix, raw); err != nil {
		return "", errors.Wrapf(ErrPersist, "%s: %v", path+metaSuffix, err)
	}

	s.log.WithFields(logrus.Fields{
		"name":    name,
		"outcome": meta.Outcome,
		"size":    meta.Size,
	}).Info("saved crash record")
	return path, nil
}

// List returns the names of all records, sorted.
func (s *CrashStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read crash dir %s", s.dir)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load reads a record back. A missing sidecar is tolerated: the bytes alone
// are enough to reproduce, the outcome then defaults to Crashed.
func (s *CrashStore) Load(name string) (CrashRecord, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return CrashRecord{}, errors.Wrapf(err, "read crash %s", name)
	}
	rec := CrashRecord{Data: data, Outcome: executor.Crashed}

	raw, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return CrashRecord{}, errors.Wrapf(err, "read sidecar %s", name)
	}
	var meta crashMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return CrashRecord{}, errors.Wrapf(err, "parse sidecar %s", name)
	}
	if outcome, err := executor.ParseOutcome(meta.Outcome); err == nil {
		rec.Outcome = outcome
	}
	rec.Reason = meta.Reason
	rec.Stack = meta.Stack
	rec.Iteration = meta.Iteration
	rec.Found = meta.Found
	return rec, nil
}

// Count is the number of stored records.
func (s *CrashStore) Count() (int, error) {
	names, err := s.List()
	return len(names), err
}
