// Package targets is the registry of fuzz targets linked into a binary.
// Target packages register themselves from init.
package targets

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"alma.local/greybox/executor"
)

var (
	mu       sync.RWMutex
	registry = make(map[string]executor.Target)
)

// Register makes t available under name. Registering a name twice panics.
func Register(name string, t executor.Target) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic("targets: duplicate registration of " + name)
	}
	registry[name] = t
}

// Lookup returns the target registered under name.
func Lookup(name string) (executor.Target, error) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown target %q (registered: %v)", name, namesLocked())
	}
	return t, nil
}

// Names lists registered targets in order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
