package models

// Tier classifies how safely a finding can be remediated without a human.
type Tier string

const (
	// TierDeterministic findings have exactly one correct rewrite and are always auto-applied.
	TierDeterministic Tier = "deterministic"
	// TierAssisted findings are fixed with reviewer-supplied text, no confirmation needed.
	TierAssisted Tier = "assisted"
	// TierHybrid findings are only fixed when the caller supplies a chosen resolution.
	TierHybrid Tier = "hybrid"
	// TierHumanRequired findings are never auto-applied.
	TierHumanRequired Tier = "human-required"
	// TierValidationOnly phases check but have no remediation of their own.
	TierValidationOnly Tier = "validation-only"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierDeterministic, TierAssisted, TierHybrid, TierHumanRequired, TierValidationOnly:
		return true
	default:
		return false
	}
}

// Automatable reports whether the fix loop can act on findings of this tier
// without a human in the loop.
func (t Tier) Automatable() bool {
	return t == TierDeterministic || t == TierAssisted
}

// Criticality is the weight a phase carries in an audit.
type Criticality string

const (
	// CriticalityCritical phases block compliance outright.
	CriticalityCritical Criticality = "critical"
	// CriticalityHigh phases are part of the minimum viable audit.
	CriticalityHigh Criticality = "high"
	// CriticalityMedium phases run in full audits only.
	CriticalityMedium Criticality = "medium"
	// CriticalityLow phases are cosmetic.
	CriticalityLow Criticality = "low"
	// CriticalityNotApplicable phases are skipped.
	CriticalityNotApplicable Criticality = "not-applicable"
)

// Rank orders criticalities from most (4) to least (0) severe.
// Not-applicable and unknown values rank below low.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityCritical:
		return 4
	case CriticalityHigh:
		return 3
	case CriticalityMedium:
		return 2
	case CriticalityLow:
		return 1
	default:
		return 0
	}
}

// Valid returns true if the criticality is a known value.
func (c Criticality) Valid() bool {
	return c.Rank() > 0 || c == CriticalityNotApplicable
}

// AtLeast reports whether c is as severe as min. Not-applicable is never at
// least anything.
func (c Criticality) AtLeast(min Criticality) bool {
	if c == CriticalityNotApplicable {
		return false
	}
	return c.Rank() >= min.Rank()
}
