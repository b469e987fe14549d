package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SemanticPhase is the phase number carried by findings that came from the
// external semantic reviewer instead of a registered phase.
const SemanticPhase = 0

// Severity is how much a finding matters to the operator.
type Severity string

const (
	// SeverityCritical findings block compliance.
	SeverityCritical Severity = "critical"
	// SeverityWarning findings should be fixed.
	SeverityWarning Severity = "warning"
	// SeverityInfo findings are informational.
	SeverityInfo Severity = "info"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	default:
		return false
	}
}

// Rank orders severities for reports: critical (0) sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Counts reports whether the severity is tracked by the convergence check.
func (s Severity) Counts() bool {
	return s == SeverityCritical || s == SeverityWarning
}

// Status is the outcome of a single check.
type Status string

const (
	// StatusPass indicates the check found nothing to fix.
	StatusPass Status = "pass"
	// StatusWarn indicates a non-blocking problem.
	StatusWarn Status = "warn"
	// StatusFail indicates a blocking problem.
	StatusFail Status = "fail"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusWarn, StatusFail:
		return true
	default:
		return false
	}
}

// Worse returns the more severe of two statuses (fail > warn > pass).
func (s Status) Worse(other Status) Status {
	if s == StatusFail || other == StatusFail {
		return StatusFail
	}
	if s == StatusWarn || other == StatusWarn {
		return StatusWarn
	}
	return StatusPass
}

// Finding is one reported issue or confirmation for one entry.
// Findings are values; nothing mutates them after construction.
type Finding struct {
	// ID identifies the finding across runs. It is derived from the content
	// so the same problem reported twice carries the same ID.
	ID string `json:"id"`
	// PhaseNumber is the phase that produced the finding, or SemanticPhase.
	PhaseNumber int `json:"phase"`
	// Criterion names the rule that was checked.
	Criterion string `json:"criterion"`
	// Severity is how much the finding matters.
	Severity Severity `json:"severity"`
	// Status is the check outcome.
	Status Status `json:"status"`
	// Message describes the finding.
	Message string `json:"message"`
	// Location optionally points at a line or section.
	Location string `json:"location,omitempty"`
	// Tier is the automation tier used to plan a fix.
	Tier Tier `json:"tier"`
}

// NewFinding builds a finding and derives its ID.
func NewFinding(phase int, criterion string, severity Severity, status Status, message, location string, tier Tier) Finding {
	f := Finding{
		PhaseNumber: phase,
		Criterion:   criterion,
		Severity:    severity,
		Status:      status,
		Message:     message,
		Location:    location,
		Tier:        tier,
	}
	f.ID = FindingID(f)
	return f
}

// FindingID derives the stable identifier for a finding from its phase,
// criterion, message and location.
func FindingID(f Finding) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s\x00%s\x00%s", f.PhaseNumber, f.Criterion, f.Message, f.Location)
	sum := hex.EncodeToString(h.Sum(nil))[:10]
	if f.PhaseNumber == SemanticPhase {
		return "S-" + sum
	}
	return fmt.Sprintf("P%02d-%s", f.PhaseNumber, sum)
}

// Passing reports whether the finding needs no action.
func (f Finding) Passing() bool {
	return f.Status == StatusPass
}

// SameAs reports exact structural equality on phase, message and location,
// the key used for de-duplication.
func (f Finding) SameAs(other Finding) bool {
	return f.PhaseNumber == other.PhaseNumber &&
		f.Message == other.Message &&
		f.Location == other.Location
}

// IsSemantic reports whether the finding came from the semantic reviewer.
func (f Finding) IsSemantic() bool {
	return f.PhaseNumber == SemanticPhase
}

// String renders a compact single-line form used in logs.
func (f Finding) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s/%s] %s: %s", f.Severity, f.Status, f.Criterion, f.Message)
	if f.Location != "" {
		fmt.Fprintf(&sb, " (%s)", f.Location)
	}
	return sb.String()
}

// AuditResult is the outcome of one audit of one entry.
type AuditResult struct {
	// EntryName is the audited entry.
	EntryName string `json:"entry"`
	// Findings holds structural findings in phase order, then semantic findings.
	Findings []Finding `json:"findings"`
	// OverallStatus is fail if any finding failed, else warn if any warned, else pass.
	OverallStatus Status `json:"status"`
}

// NewAuditResult builds a result and derives its overall status.
// The findings slice is copied.
func NewAuditResult(entry string, findings []Finding) *AuditResult {
	cp := make([]Finding, len(findings))
	copy(cp, findings)
	return &AuditResult{
		EntryName:     entry,
		Findings:      cp,
		OverallStatus: DeriveStatus(cp),
	}
}

// DeriveStatus applies the fail > warn > pass precedence.
func DeriveStatus(findings []Finding) Status {
	status := StatusPass
	for _, f := range findings {
		status = status.Worse(f.Status)
	}
	return status
}

// NonPassing returns the findings that need action, in order.
func (r *AuditResult) NonPassing() []Finding {
	if r == nil {
		return nil
	}
	var out []Finding
	for _, f := range r.Findings {
		if !f.Passing() {
			out = append(out, f)
		}
	}
	return out
}

// OpenCount returns the number of non-passing critical and warning findings.
func (r *AuditResult) OpenCount() int {
	n := 0
	for _, f := range r.NonPassing() {
		if f.Severity.Counts() {
			n++
		}
	}
	return n
}

// Equal reports structural equality of two results.
func (r *AuditResult) Equal(other *AuditResult) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.EntryName != other.EntryName || r.OverallStatus != other.OverallStatus {
		return false
	}
	if len(r.Findings) != len(other.Findings) {
		return false
	}
	for i := range r.Findings {
		if r.Findings[i] != other.Findings[i] {
			return false
		}
	}
	return true
}
