package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// ErrNoTable is returned when text holds no report header.
var ErrNoTable = errors.New("report: no findings table found")

// Parse reads findings back from Format or FormatResult output. Truncated
// cells come back truncated, so Format(Parse(Format(f))) equals Format(f)
// even when the original values did not fit their columns.
func Parse(text string) ([]models.Finding, error) {
	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		if line == Header {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, ErrNoTable
	}

	findings := []models.Finding{}
	for i := start; i < len(lines); i++ {
		line := lines[i]
		if line == noFindings {
			continue
		}
		if strings.HasPrefix(line, summaryHead) || line == "" {
			break
		}
		f, err := parseRow(line)
		if err != nil {
			return nil, fmt.Errorf("report line %d: %w", i+1, err)
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func parseRow(line string) (models.Finding, error) {
	rest := []rune(line)
	values := make([]string, 0, len(columns))
	for _, c := range columns {
		n, w := 0, 0
		for n < len(rest) {
			rw := width.RuneWidth(rest[n])
			if w+rw > c.width {
				break
			}
			w += rw
			n++
		}
		if w != c.width {
			return models.Finding{}, fmt.Errorf("column %s is short", c.title)
		}
		values = append(values, unfill(string(rest[:n])))
		rest = rest[n:]
		if !strings.HasPrefix(string(rest), separator) {
			return models.Finding{}, fmt.Errorf("missing separator after %s", c.title)
		}
		rest = rest[len(separator):]
	}

	phase, err := parsePhase(values[3])
	if err != nil {
		return models.Finding{}, err
	}
	f := models.Finding{
		ID:          values[0],
		Severity:    models.Severity(values[1]),
		Status:      models.Status(values[2]),
		PhaseNumber: phase,
		Tier:        models.Tier(values[4]),
		Criterion:   values[5],
		Location:    values[6],
		Message:     unfill(string(rest)),
	}
	if !f.Severity.Valid() {
		return models.Finding{}, fmt.Errorf("unknown severity %q", f.Severity)
	}
	if !f.Status.Valid() {
		return models.Finding{}, fmt.Errorf("unknown status %q", f.Status)
	}
	return f, nil
}

// unfill strips padding and maps the empty marker back to "".
func unfill(s string) string {
	s = strings.TrimRight(s, " ")
	if s == emptyCell {
		return ""
	}
	return s
}

func parsePhase(s string) (int, error) {
	if s == "SEM" {
		return models.SemanticPhase, nil
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("bad phase %q", s)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "P"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bad phase %q", s)
	}
	return n, nil
}
