package phases

import (
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// Categories with their own phase applicability.
const (
	// CategoryArchive entries are retired; no phase applies to them.
	CategoryArchive = "archive"
	// CategoryReference entries are looked up, never triggered, so the
	// trigger phrase and the line budget matter less.
	CategoryReference = "reference"
)

// catalog is built once and never mutated. Accessors hand out copies.
var catalog = build()

func build() []Phase {
	list := []Phase{
		{number: 1, name: "frontmatter-block", criticality: models.CriticalityCritical, tier: models.TierDeterministic,
			check: checkFrontmatterBlock, remedy: fixFrontmatterBlock},
		{number: 2, name: "name-field", criticality: models.CriticalityCritical, tier: models.TierDeterministic,
			check: checkNameField, remedy: fixNameField},
		{number: 3, name: "color-field", criticality: models.CriticalityCritical, tier: models.TierDeterministic,
			check: checkColorField, remedy: fixColorField},
		{number: 4, name: "description-field", criticality: models.CriticalityCritical, tier: models.TierAssisted,
			check: checkDescriptionField},
		{number: 5, name: "description-trigger", criticality: models.CriticalityMedium, tier: models.TierAssisted,
			check:      checkDescriptionTrigger,
			byCategory: map[string]models.Criticality{CategoryReference: models.CriticalityNotApplicable}},
		{number: 6, name: "allowed-tools-format", criticality: models.CriticalityMedium, tier: models.TierDeterministic,
			check: checkAllowedTools, remedy: fixAllowedTools},
		{number: 7, name: "title-heading", criticality: models.CriticalityMedium, tier: models.TierDeterministic,
			check: checkTitleHeading, remedy: fixTitleHeading},
		{number: 8, name: "heading-hierarchy", criticality: models.CriticalityLow, tier: models.TierDeterministic,
			check: checkHeadingHierarchy, remedy: fixHeadingHierarchy},
		{number: 9, name: "code-fence-language", criticality: models.CriticalityLow, tier: models.TierHybrid,
			check: checkFenceLanguage, resolver: resolveFenceLanguage},
		{number: 10, name: "broken-references", criticality: models.CriticalityHigh, tier: models.TierHumanRequired,
			check: checkReferences},
		{number: 11, name: "placeholder-markers", criticality: models.CriticalityMedium, tier: models.TierAssisted,
			check: checkPlaceholders},
		{number: 12, name: "line-budget", criticality: models.CriticalityHigh, tier: models.TierHumanRequired,
			check:      checkLineBudget,
			byCategory: map[string]models.Criticality{CategoryReference: models.CriticalityMedium}},
		{number: 13, name: "trailing-whitespace", criticality: models.CriticalityLow, tier: models.TierDeterministic,
			check: checkTrailingWhitespace, remedy: fixTrailingWhitespace},
		{number: 14, name: "metadata-schema", criticality: models.CriticalityMedium, tier: models.TierValidationOnly,
			check: checkMetadataSchema},
	}
	for i := range list {
		if list[i].byCategory == nil {
			list[i].byCategory = make(map[string]models.Criticality, 1)
		}
		list[i].byCategory[CategoryArchive] = models.CriticalityNotApplicable
	}
	return list
}

// All returns every phase in ascending number order.
func All() []Phase {
	out := make([]Phase, len(catalog))
	copy(out, catalog)
	return out
}

// AtOrAbove returns the phases whose default criticality is at least min.
func AtOrAbove(min models.Criticality) []Phase {
	var out []Phase
	for _, p := range catalog {
		if p.criticality.AtLeast(min) {
			out = append(out, p)
		}
	}
	return out
}

// ByNumber looks up one phase.
func ByNumber(n int) (Phase, bool) {
	for _, p := range catalog {
		if p.number == n {
			return p, true
		}
	}
	return Phase{}, false
}

// Count returns the size of the catalog.
func Count() int { return len(catalog) }
