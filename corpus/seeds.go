package corpus

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"alma.local/greybox/input"
)

// LoadDir reads every regular file of dir as an initial input, in name order.
// Hidden files, sidecars and files above input.MaxSize are skipped.
func LoadDir(dir string) ([]input.Input, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read seed dir %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var seeds []input.Input
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "stat seed %s", name)
		}
		if info.Size() > input.MaxSize {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "read seed %s", name)
		}
		seeds = append(seeds, input.Input(data))
	}
	return seeds, nil
}
