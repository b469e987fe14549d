package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// Snapshot is the progress record written after every transition.
type Snapshot struct {
	RunID     string        `json:"runId"`
	EntryName string        `json:"entryName"`
	Iteration int           `json:"iterationCount"`
	State     State         `json:"state"`
	OpenCount int           `json:"openCount"`
	Status    models.Status `json:"status,omitempty"`
	At        time.Time     `json:"at"`
}

// ProgressRecorder stores snapshots so an interrupted run can be resumed.
type ProgressRecorder interface {
	Record(ctx context.Context, s Snapshot) error
}

// NopRecorder discards snapshots.
type NopRecorder struct{}

// Record implements ProgressRecorder.
func (NopRecorder) Record(context.Context, Snapshot) error { return nil }

// MemoryRecorder keeps snapshots in memory.
type MemoryRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

// Record implements ProgressRecorder.
func (m *MemoryRecorder) Record(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s)
	return nil
}

// Snapshots returns a copy of everything recorded.
func (m *MemoryRecorder) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot{}, m.snaps...)
}

// States returns the recorded states for one entry, in order.
func (m *MemoryRecorder) States(entry string) []State {
	var out []State
	for _, s := range m.Snapshots() {
		if s.EntryName == entry {
			out = append(out, s.State)
		}
	}
	return out
}
