package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// EntryLock keeps at most one fix run per entry. Holders in this process are
// tracked in memory; when a directory is set, an exclusive lock file also
// keeps out other processes.
type EntryLock struct {
	mu   sync.Mutex
	held map[string]bool
	dir  string
}

// NewEntryLock creates a lock set. An empty dir disables lock files.
func NewEntryLock(dir string) *EntryLock {
	return &EntryLock{held: make(map[string]bool), dir: dir}
}

// Acquire takes the lock for name. The returned release func is safe to
// call more than once.
func (l *EntryLock) Acquire(name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}

	var path string
	if l.dir != "" {
		if err := os.MkdirAll(l.dir, 0755); err != nil {
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
		path = filepath.Join(l.dir, lockFileName(name))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s (remove %s if no run is active)", ErrLocked, name, path)
		}
		if err != nil {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		fmt.Fprintf(f, "%d\n", os.Getpid())
		f.Close()
	}
	l.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, name)
			if path != "" {
				_ = os.Remove(path)
			}
		})
	}, nil
}

// Held reports whether this process holds the lock for name.
func (l *EntryLock) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}

func lockFileName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(name) + ".lock"
}
