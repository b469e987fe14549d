package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/kbaudit/internal/report"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// EscalationReport lists what a human has to act on after a run stops
// short of a passing audit.
type EscalationReport struct {
	// EntryName is the entry that needs attention.
	EntryName string
	// Iterations is the number of fix cycles already spent.
	Iterations int
	// Human are findings no automation may touch.
	Human []models.Finding
	// Unresolved are hybrid findings that never received a resolution.
	Unresolved []models.Finding
	// Unfixed are automatable findings whose fix was skipped in the last
	// cycle, with the reason.
	Unfixed []SkippedFix
}

// NewEscalationReport builds a report from an outcome. It returns nil for
// outcomes that need nothing from a human.
func NewEscalationReport(out *Outcome) *EscalationReport {
	if out == nil || out.Final == nil || out.Remaining.Len() == 0 {
		return nil
	}
	rep := &EscalationReport{
		EntryName:  out.EntryName,
		Iterations: out.Iterations,
		Human:      out.Remaining.Human,
		Unresolved: out.Remaining.Hybrid,
	}
	open := make(map[string]bool)
	for _, f := range out.Remaining.Deterministic {
		open[f.ID] = true
	}
	for _, f := range out.Remaining.Assisted {
		open[f.ID] = true
	}
	seen := make(map[string]bool)
	for i := len(out.Skipped) - 1; i >= 0; i-- {
		s := out.Skipped[i]
		if open[s.Finding.ID] && !seen[s.Finding.ID] {
			seen[s.Finding.ID] = true
			rep.Unfixed = append([]SkippedFix{s}, rep.Unfixed...)
		}
	}
	return rep
}

// Findings returns every finding in the report.
func (r *EscalationReport) Findings() []models.Finding {
	out := append([]models.Finding{}, r.Human...)
	out = append(out, r.Unresolved...)
	for _, s := range r.Unfixed {
		out = append(out, s.Finding)
	}
	return out
}

// String renders the report with the deterministic table.
func (r *EscalationReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s needs attention after %d fix iteration(s)\n", r.EntryName, r.Iterations)
	fmt.Fprintf(&sb, "human-required: %d, unresolved hybrid: %d, unfixed: %d\n\n",
		len(r.Human), len(r.Unresolved), len(r.Unfixed))
	sb.WriteString(report.Format(r.Findings()))
	for _, s := range r.Unfixed {
		fmt.Fprintf(&sb, "unfixed %s: %s\n", s.Finding.ID, s.Reason)
	}
	return sb.String()
}
