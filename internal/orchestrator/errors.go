package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/kbaudit/pkg/models"
)

var (
	// ErrLocked is returned when another run holds the entry.
	ErrLocked = errors.New("entry is locked by another fix run")
	// ErrRegression is matched by RegressionError.
	ErrRegression = errors.New("fix regressed the entry")
)

// Delta compares the open critical and warning findings of two audits.
type Delta struct {
	Before int `json:"before"`
	After  int `json:"after"`
	// Introduced are open findings present after but not before.
	Introduced []models.Finding `json:"introduced"`
	// Resolved are open findings present before but not after.
	Resolved []models.Finding `json:"resolved"`
}

// Diff computes the delta between two audits by finding ID.
func Diff(before, after *models.AuditResult) Delta {
	b, a := counted(before), counted(after)
	d := Delta{Before: len(b), After: len(a)}
	inBefore := make(map[string]bool, len(b))
	for _, f := range b {
		inBefore[f.ID] = true
	}
	inAfter := make(map[string]bool, len(a))
	for _, f := range a {
		inAfter[f.ID] = true
		if !inBefore[f.ID] {
			d.Introduced = append(d.Introduced, f)
		}
	}
	for _, f := range b {
		if !inAfter[f.ID] {
			d.Resolved = append(d.Resolved, f)
		}
	}
	return d
}

func counted(r *models.AuditResult) []models.Finding {
	var out []models.Finding
	for _, f := range r.NonPassing() {
		if f.Severity.Counts() {
			out = append(out, f)
		}
	}
	return out
}

// RegressionError reports a fix iteration that increased the number of open
// critical and warning findings. It ends the run and is never retried.
type RegressionError struct {
	Entry     string
	Iteration int
	Delta     Delta
}

func (e *RegressionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fix iteration %d regressed %s: open critical/warning findings went from %d to %d",
		e.Iteration, e.Entry, e.Delta.Before, e.Delta.After)
	for _, f := range e.Delta.Introduced {
		fmt.Fprintf(&sb, "\n  + %s", f)
	}
	for _, f := range e.Delta.Resolved {
		fmt.Fprintf(&sb, "\n  - %s", f)
	}
	return sb.String()
}

// Is lets errors.Is match ErrRegression.
func (e *RegressionError) Is(target error) bool {
	return target == ErrRegression
}
