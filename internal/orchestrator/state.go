package orchestrator

import "github.com/ShayCichocki/kbaudit/pkg/models"

// MaxIterations bounds the number of fix-then-reaudit cycles in one run.
const MaxIterations = 5

// State is a fix-loop state.
type State string

const (
	// StateAuditing runs the audit engine on the current entry content.
	StateAuditing State = "auditing"
	// StateDeciding partitions non-passing findings into a FixPlan.
	StateDeciding State = "deciding"
	// StateFixing applies what the plan allows.
	StateFixing State = "fixing"
	// StateReauditing re-runs the audit and checks convergence.
	StateReauditing State = "reauditing"
	// StateComplete is reached on a passing audit or a caller skip.
	StateComplete State = "complete"
	// StateEscalated is reached when the iteration bound is hit.
	StateEscalated State = "escalated"
	// StateError is reached on regression or an unrecoverable failure.
	StateError State = "error"
	// StateCancelled is reached on caller cancellation or timeout.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateEscalated, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

// Valid returns true if the state is a known value.
func (s State) Valid() bool {
	switch s {
	case StateAuditing, StateDeciding, StateFixing, StateReauditing:
		return true
	default:
		return s.Terminal()
	}
}

// IterationState is owned by exactly one run and discarded when the run
// ends.
type IterationState struct {
	EntryName string
	// Iteration counts completed fix-then-reaudit cycles.
	Iteration int
	// History holds every audit of the run, oldest first.
	History []*models.AuditResult
}

func (s *IterationState) record(r *models.AuditResult) {
	s.History = append(s.History, r)
}

// Latest returns the most recent audit, or nil.
func (s *IterationState) Latest() *models.AuditResult {
	if len(s.History) == 0 {
		return nil
	}
	return s.History[len(s.History)-1]
}
