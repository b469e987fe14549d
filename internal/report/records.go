package report

import (
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// Record is the machine-readable form of one table row.
type Record struct {
	ID        string `json:"id"`
	Severity  string `json:"severity"`
	Status    string `json:"status"`
	Phase     int    `json:"phase"`
	Tier      string `json:"tier"`
	Criterion string `json:"criterion"`
	Location  string `json:"location"`
	Message   string `json:"message"`
}

// Document is the machine-readable form of FormatResult.
type Document struct {
	Entry    string   `json:"entry,omitempty"`
	Status   string   `json:"status,omitempty"`
	Findings []Record `json:"findings"`
}

// Records returns findings in report order, untruncated.
func Records(findings []models.Finding) []Record {
	ordered := Ordered(findings)
	out := make([]Record, len(ordered))
	for i, f := range ordered {
		out[i] = Record{
			ID:        f.ID,
			Severity:  string(f.Severity),
			Status:    string(f.Status),
			Phase:     f.PhaseNumber,
			Tier:      string(f.Tier),
			Criterion: f.Criterion,
			Location:  f.Location,
			Message:   f.Message,
		}
	}
	return out
}

// JSON encodes a result as an indented Document.
func JSON(r *models.AuditResult) ([]byte, error) {
	doc := Document{
		Entry:    r.EntryName,
		Status:   string(r.OverallStatus),
		Findings: Records(r.Findings),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}
