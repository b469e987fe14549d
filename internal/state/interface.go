package state

import (
	"time"

	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
)

// History is the read side of the progress database, as used by status
// reporting and resume.
type History interface {
	GetRun(id string) (*Run, error)
	LatestRun(entry string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	InterruptedRuns() ([]Run, error)
	Snapshots(runID string) ([]orchestrator.Snapshot, error)
}

// Store is a History that also records progress and can be pruned.
type Store interface {
	History
	orchestrator.ProgressRecorder
	PurgeOldRuns(olderThan time.Duration) (int64, error)
	Close() error
}

var _ Store = (*DB)(nil)
