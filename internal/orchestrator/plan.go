package orchestrator

import "github.com/ShayCichocki/kbaudit/pkg/models"

// FixPlan partitions the non-passing findings of an audit by how they may be
// remediated. Every non-passing finding lands in exactly one bucket.
type FixPlan struct {
	// Deterministic findings are fixed by their phase remedy.
	Deterministic []models.Finding `json:"deterministic"`
	// Assisted findings are fixed with reviewer-supplied rewrites.
	Assisted []models.Finding `json:"assisted"`
	// Hybrid findings are fixed only with a caller resolution.
	Hybrid []models.Finding `json:"hybrid"`
	// Human findings are never applied. Validation-only and unknown tiers
	// land here too.
	Human []models.Finding `json:"human"`
}

// Partition builds a plan from findings, keeping their order within each
// bucket.
func Partition(findings []models.Finding) FixPlan {
	var p FixPlan
	for _, f := range findings {
		if f.Passing() {
			continue
		}
		switch f.Tier {
		case models.TierDeterministic:
			p.Deterministic = append(p.Deterministic, f)
		case models.TierAssisted:
			p.Assisted = append(p.Assisted, f)
		case models.TierHybrid:
			p.Hybrid = append(p.Hybrid, f)
		default:
			p.Human = append(p.Human, f)
		}
	}
	return p
}

// Len returns the number of findings in all buckets.
func (p FixPlan) Len() int {
	return len(p.Deterministic) + len(p.Assisted) + len(p.Hybrid) + len(p.Human)
}

// All returns every planned finding, bucket by bucket.
func (p FixPlan) All() []models.Finding {
	out := make([]models.Finding, 0, p.Len())
	out = append(out, p.Deterministic...)
	out = append(out, p.Assisted...)
	out = append(out, p.Hybrid...)
	out = append(out, p.Human...)
	return out
}

// Escalation returns the findings reported when a run escalates: everything
// needing a human plus hybrid findings nobody resolved.
func (p FixPlan) Escalation() []models.Finding {
	out := make([]models.Finding, 0, len(p.Human)+len(p.Hybrid))
	out = append(out, p.Human...)
	out = append(out, p.Hybrid...)
	return out
}
