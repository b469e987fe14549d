package orchestrator

import (
	"context"

	"github.com/ShayCichocki/kbaudit/internal/audit"
	"github.com/ShayCichocki/kbaudit/internal/library"
)

// Rewrite is replacement text for an assisted finding. The text is applied
// as-is; the orchestrator never authors prose itself.
type Rewrite struct {
	FindingID string `json:"findingId"`
	// Target is a finding location (metadata:<key>, section:<heading> or
	// body). Empty means the finding's own location.
	Target string `json:"target,omitempty"`
	Text   string `json:"text"`
}

// Resolution is a caller's choice for a hybrid finding.
type Resolution struct {
	FindingID string `json:"findingId"`
	Text      string `json:"chosenResolutionText"`
	// Entry restricts the resolution to one entry. Finding IDs do not
	// include the entry name, so batch runs need it to tell entries apart.
	Entry string `json:"entry,omitempty"`
}

// Review is what the semantic reviewer returns for one audit.
type Review struct {
	Findings []audit.SemanticFinding `json:"findings"`
	Rewrites []Rewrite               `json:"rewrites"`
}

// Reviewer supplies semantic findings and rewrites. It is called once per
// audit with the entry as it stands and the number of completed iterations.
type Reviewer interface {
	Review(ctx context.Context, entry *library.Entry, iteration int) (Review, error)
}

// NopReviewer supplies nothing.
type NopReviewer struct{}

// Review implements Reviewer.
func (NopReviewer) Review(context.Context, *library.Entry, int) (Review, error) {
	return Review{}, nil
}

// StaticReviewer replays one precomputed review. Findings that come with a
// rewrite are considered settled once the first fix cycle has run; findings
// without one keep being reported.
type StaticReviewer struct {
	review Review
}

// NewStaticReviewer wraps a precomputed review.
func NewStaticReviewer(r Review) *StaticReviewer {
	return &StaticReviewer{review: r}
}

// Review implements Reviewer.
func (s *StaticReviewer) Review(_ context.Context, _ *library.Entry, iteration int) (Review, error) {
	if iteration == 0 {
		return s.review, nil
	}
	fixed := make(map[string]bool)
	for _, rw := range s.review.Rewrites {
		fixed[rw.FindingID] = true
	}
	var out Review
	out.Rewrites = s.review.Rewrites
	for _, sf := range s.review.Findings {
		if !fixed[sf.Finding().ID] {
			out.Findings = append(out.Findings, sf)
		}
	}
	return out, nil
}
