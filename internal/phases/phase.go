// Package phases holds the fixed, numbered catalog of validators run against
// knowledge-base entries, along with the remedies for the phases that have one.
package phases

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

var (
	// ErrNoRemedy is returned when a phase has no remedy for its tier.
	ErrNoRemedy = errors.New("phases: no remedy for this phase")
	// ErrUnparseableMetadata is returned when a metadata remedy is asked to
	// edit an entry whose frontmatter could not be parsed.
	ErrUnparseableMetadata = errors.New("phases: frontmatter is not parseable")
	// ErrResolutionTarget is returned when a resolution points at nothing.
	ErrResolutionTarget = errors.New("phases: resolution target not found")
)

// Scope selects which phases an audit runs.
type Scope string

const (
	// ScopeMinimum runs critical and high phases only.
	ScopeMinimum Scope = "minimum"
	// ScopeFull runs every applicable phase.
	ScopeFull Scope = "full"
)

// ParseScope converts a config or flag value to a Scope. The empty string
// means full.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeFull:
		return ScopeFull, nil
	case ScopeMinimum:
		return ScopeMinimum, nil
	default:
		return "", fmt.Errorf("unknown audit scope %q (want minimum or full)", s)
	}
}

// Issue is one problem a check observed. The phase turns issues into
// findings, stamping severity, status and tier from its own classification.
type Issue struct {
	Message  string
	Location string
	// Severity overrides the severity derived from the phase criticality.
	Severity models.Severity
}

// Check inspects an entry. It must not perform I/O or touch shared state.
type Check func(e *library.Entry) ([]Issue, error)

// Remedy rewrites an entry to clear a deterministic finding. It returns a
// new entry and leaves its input untouched.
type Remedy func(e *library.Entry, f models.Finding) (*library.Entry, error)

// Resolver applies a caller-chosen resolution to a hybrid finding.
type Resolver func(e *library.Entry, f models.Finding, text string) (*library.Entry, error)

// Phase is one numbered validator. Phases are values built once; their
// fields are read-only after construction.
type Phase struct {
	number      int
	name        string
	criticality models.Criticality
	tier        models.Tier
	// byCategory overrides criticality for entries of a given category.
	byCategory map[string]models.Criticality
	check      Check
	remedy     Remedy
	resolver   Resolver
}

// New builds a phase outside the catalog. The catalog itself is closed;
// this exists so engines can be exercised with purpose-built phases.
func New(number int, name string, criticality models.Criticality, tier models.Tier, check Check) Phase {
	return Phase{number: number, name: name, criticality: criticality, tier: tier, check: check}
}

// WithRemedy returns a copy of p using remedy for deterministic fixes.
func (p Phase) WithRemedy(remedy Remedy) Phase {
	p.remedy = remedy
	return p
}

// WithResolver returns a copy of p accepting caller resolutions.
func (p Phase) WithResolver(resolver Resolver) Phase {
	p.resolver = resolver
	return p
}

// Number returns the phase number, which defines run order.
func (p Phase) Number() int { return p.number }

// Name returns the phase name, also used as the finding criterion.
func (p Phase) Name() string { return p.name }

// Criticality returns the default criticality.
func (p Phase) Criticality() models.Criticality { return p.criticality }

// Tier returns the automation tier.
func (p Phase) Tier() models.Tier { return p.tier }

// CriticalityFor returns the criticality that applies to entries of the
// given category.
func (p Phase) CriticalityFor(category string) models.Criticality {
	if c, ok := p.byCategory[category]; ok {
		return c
	}
	return p.criticality
}

// Applicable reports whether the phase runs at all for e.
func (p Phase) Applicable(e *library.Entry) bool {
	return p.CriticalityFor(e.Category()) != models.CriticalityNotApplicable
}

// InScope reports whether the phase runs for e under scope.
func (p Phase) InScope(e *library.Entry, scope Scope) bool {
	c := p.CriticalityFor(e.Category())
	if c == models.CriticalityNotApplicable {
		return false
	}
	if scope == ScopeMinimum {
		return c.AtLeast(models.CriticalityHigh)
	}
	return true
}

// HasRemedy reports whether the phase can fix its own findings
// deterministically.
func (p Phase) HasRemedy() bool { return p.remedy != nil }

// HasResolver reports whether the phase accepts caller resolutions.
func (p Phase) HasResolver() bool { return p.resolver != nil }

// Evaluate runs the check and converts its issues into findings. A passing
// check yields no findings.
func (p Phase) Evaluate(e *library.Entry) ([]models.Finding, error) {
	if p.check == nil {
		return nil, fmt.Errorf("phase %d (%s) has no check", p.number, p.name)
	}
	issues, err := p.check(e)
	if err != nil {
		return nil, err
	}
	crit := p.CriticalityFor(e.Category())
	findings := make([]models.Finding, 0, len(issues))
	for _, is := range issues {
		sev, status := classify(crit)
		if is.Severity != "" {
			sev, status = is.Severity, statusFor(is.Severity)
		}
		findings = append(findings, models.NewFinding(p.number, p.name, sev, status, is.Message, is.Location, p.tier))
	}
	return findings, nil
}

// Fix applies the phase's deterministic remedy.
func (p Phase) Fix(e *library.Entry, f models.Finding) (*library.Entry, error) {
	if p.remedy == nil {
		return nil, fmt.Errorf("%w: phase %d (%s)", ErrNoRemedy, p.number, p.name)
	}
	return p.remedy(e, f)
}

// Resolve applies a caller-supplied resolution text.
func (p Phase) Resolve(e *library.Entry, f models.Finding, text string) (*library.Entry, error) {
	if p.resolver == nil {
		return nil, fmt.Errorf("%w: phase %d (%s)", ErrNoRemedy, p.number, p.name)
	}
	return p.resolver(e, f, text)
}

func (p Phase) String() string {
	return fmt.Sprintf("%02d %s (%s, %s)", p.number, p.name, p.criticality, p.tier)
}

// classify maps a criticality to the severity and status of a failed check.
func classify(c models.Criticality) (models.Severity, models.Status) {
	switch c {
	case models.CriticalityCritical, models.CriticalityHigh:
		return models.SeverityCritical, models.StatusFail
	case models.CriticalityMedium:
		return models.SeverityWarning, models.StatusWarn
	default:
		return models.SeverityInfo, models.StatusWarn
	}
}

func statusFor(s models.Severity) models.Status {
	if s == models.SeverityCritical {
		return models.StatusFail
	}
	return models.StatusWarn
}
