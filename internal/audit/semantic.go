package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// ErrMalformedSemanticFinding is matched by MalformedSemanticFindingError.
var ErrMalformedSemanticFinding = errors.New("malformed semantic finding")

// MalformedSemanticFindingError rejects a whole batch of reviewer findings
// because one item failed validation.
type MalformedSemanticFindingError struct {
	// Index is the position of the offending item, or -1 when the batch
	// itself could not be read.
	Index  int
	Reason string
}

func (e *MalformedSemanticFindingError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed semantic findings: %s", e.Reason)
	}
	return fmt.Sprintf("malformed semantic finding at index %d: %s", e.Index, e.Reason)
}

// Is lets errors.Is match ErrMalformedSemanticFinding.
func (e *MalformedSemanticFindingError) Is(target error) bool {
	return target == ErrMalformedSemanticFinding
}

// SemanticFinding is one judgment supplied by the external reviewer.
type SemanticFinding struct {
	Severity  string `json:"severity"`
	Criterion string `json:"criterion"`
	Message   string `json:"message"`
	Location  string `json:"location,omitempty"`
}

// wireFinding distinguishes missing fields from empty ones.
type wireFinding struct {
	Severity  *string `json:"severity"`
	Criterion *string `json:"criterion"`
	Message   *string `json:"message"`
	Location  *string `json:"location"`
}

// DecodeSemanticFindings reads a JSON array of reviewer findings. Unknown
// fields, missing required fields and wrongly typed values are all
// rejected; no partial list is ever returned.
func DecodeSemanticFindings(data []byte) ([]SemanticFinding, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedSemanticFindingError{Index: -1, Reason: fmt.Sprintf("expected a JSON array: %v", err)}
	}
	out := make([]SemanticFinding, 0, len(raw))
	for i, item := range raw {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.DisallowUnknownFields()
		var w wireFinding
		if err := dec.Decode(&w); err != nil {
			return nil, &MalformedSemanticFindingError{Index: i, Reason: err.Error()}
		}
		switch {
		case w.Severity == nil:
			return nil, &MalformedSemanticFindingError{Index: i, Reason: "missing severity"}
		case w.Criterion == nil:
			return nil, &MalformedSemanticFindingError{Index: i, Reason: "missing criterion"}
		case w.Message == nil:
			return nil, &MalformedSemanticFindingError{Index: i, Reason: "missing message"}
		}
		sf := SemanticFinding{Severity: *w.Severity, Criterion: *w.Criterion, Message: *w.Message}
		if w.Location != nil {
			sf.Location = *w.Location
		}
		out = append(out, sf)
	}
	if err := ValidateSemanticFindings(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateSemanticFindings checks every item against the finding schema.
func ValidateSemanticFindings(items []SemanticFinding) error {
	for i, sf := range items {
		if !models.Severity(sf.Severity).Valid() {
			return &MalformedSemanticFindingError{
				Index:  i,
				Reason: fmt.Sprintf("severity %q is not one of critical, warning, info", sf.Severity),
			}
		}
		if strings.TrimSpace(sf.Criterion) == "" {
			return &MalformedSemanticFindingError{Index: i, Reason: "criterion is empty"}
		}
		if strings.TrimSpace(sf.Message) == "" {
			return &MalformedSemanticFindingError{Index: i, Reason: "message is empty"}
		}
	}
	return nil
}

// Finding converts a validated reviewer item. Critical items fail, warnings
// warn and info items are recorded as passing observations.
func (sf SemanticFinding) Finding() models.Finding {
	sev := models.Severity(sf.Severity)
	status := models.StatusPass
	switch sev {
	case models.SeverityCritical:
		status = models.StatusFail
	case models.SeverityWarning:
		status = models.StatusWarn
	}
	return models.NewFinding(models.SemanticPhase, sf.Criterion, sev, status, sf.Message, sf.Location, models.TierAssisted)
}
