package orchestrator

import (
	"sort"
	"sync"

	"github.com/ShayCichocki/kbaudit/internal/library"
)

// Store is where runs read and write entries. *library.Library is the
// on-disk implementation; Save must be atomic.
type Store interface {
	Load(name string) (*library.Entry, error)
	Save(entry *library.Entry) error
	// Resolve refreshes reference resolution after an in-memory edit.
	Resolve(entry *library.Entry) error
}

// DryRunStore reads through to a base store and keeps every save in memory,
// so a fix run can be previewed without touching disk.
type DryRunStore struct {
	base Store

	mu      sync.Mutex
	entries map[string]*library.Entry
}

// NewDryRunStore wraps base.
func NewDryRunStore(base Store) *DryRunStore {
	return &DryRunStore{base: base, entries: make(map[string]*library.Entry)}
}

// Load returns the saved copy if there is one.
func (s *DryRunStore) Load(name string) (*library.Entry, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if ok {
		return e.Clone(), nil
	}
	return s.base.Load(name)
}

// Save keeps the entry in memory.
func (s *DryRunStore) Save(entry *library.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Name] = entry.Clone()
	return nil
}

// Resolve delegates to the base store.
func (s *DryRunStore) Resolve(entry *library.Entry) error {
	return s.base.Resolve(entry)
}

// Changed returns the entries that would have been written, by name.
func (s *DryRunStore) Changed() []*library.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*library.Entry, 0, len(names))
	for _, n := range names {
		out = append(out, s.entries[n].Clone())
	}
	return out
}
