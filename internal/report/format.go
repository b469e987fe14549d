// Package report renders finding sets as a fixed-width text table and as
// JSON records. Output depends only on the findings: no clock, no locale,
// no terminal size.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// column is one fixed-width cell. The message column is last and unpadded.
type column struct {
	title string
	width int
}

var columns = []column{
	{"ID", 14},
	{"SEVERITY", 8},
	{"STATUS", 6},
	{"PHASE", 5},
	{"TIER", 15},
	{"CRITERION", 22},
	{"LOCATION", 20},
}

const (
	separator   = "  "
	messageHead = "MESSAGE"
	emptyCell   = "-"
	ellipsis    = "…"
	noFindings  = "(no findings)"
	summaryHead = "findings: "
)

// width is pinned so ambiguous-width runes measure the same everywhere,
// whatever the locale environment says.
var width = &runewidth.Condition{EastAsianWidth: false, StrictEmojiNeutral: true}

// Header is the first line of every table.
var Header = buildHeader()

func buildHeader() string {
	cells := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		cells = append(cells, width.FillRight(c.title, c.width))
	}
	cells = append(cells, messageHead)
	return strings.Join(cells, separator)
}

// Ordered returns findings sorted critical, warning, info. Findings of equal
// severity keep their input order. The input is not modified.
func Ordered(findings []models.Finding) []models.Finding {
	out := make([]models.Finding, len(findings))
	copy(out, findings)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

// Format renders findings as a table followed by a summary line.
func Format(findings []models.Finding) string {
	var sb strings.Builder
	sb.WriteString(Header)
	sb.WriteByte('\n')
	ordered := Ordered(findings)
	if len(ordered) == 0 {
		sb.WriteString(noFindings)
		sb.WriteByte('\n')
	}
	for _, f := range ordered {
		sb.WriteString(row(f))
		sb.WriteByte('\n')
	}
	sb.WriteString(Summary(findings))
	sb.WriteByte('\n')
	return sb.String()
}

// FormatResult renders an audit result with its entry and overall status.
func FormatResult(r *models.AuditResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "entry: %s\n", clean(r.EntryName))
	fmt.Fprintf(&sb, "status: %s\n\n", r.OverallStatus)
	sb.WriteString(Format(r.Findings))
	return sb.String()
}

// Summary counts findings by severity and status.
func Summary(findings []models.Finding) string {
	counts := map[string]int{}
	for _, f := range findings {
		counts[string(f.Severity)]++
		counts[string(f.Status)]++
	}
	return fmt.Sprintf("%s%d (critical %d, warning %d, info %d; fail %d, warn %d, pass %d)",
		summaryHead, len(findings),
		counts[string(models.SeverityCritical)], counts[string(models.SeverityWarning)], counts[string(models.SeverityInfo)],
		counts[string(models.StatusFail)], counts[string(models.StatusWarn)], counts[string(models.StatusPass)])
}

func row(f models.Finding) string {
	values := []string{
		f.ID,
		string(f.Severity),
		string(f.Status),
		phaseLabel(f.PhaseNumber),
		string(f.Tier),
		f.Criterion,
		f.Location,
	}
	cells := make([]string, 0, len(values)+1)
	for i, v := range values {
		cells = append(cells, cell(v, columns[i].width))
	}
	msg := clean(f.Message)
	if msg == "" {
		msg = emptyCell
	}
	cells = append(cells, msg)
	return strings.Join(cells, separator)
}

// cell sanitizes, truncates and pads one value to exactly w columns.
// Truncation is stable: truncating an already truncated value is a no-op.
func cell(v string, w int) string {
	v = clean(v)
	if v == "" {
		v = emptyCell
	}
	if width.StringWidth(v) > w {
		v = width.Truncate(v, w, ellipsis)
	}
	return width.FillRight(v, w)
}

// clean replaces invalid UTF-8 with U+FFFD and collapses every run of
// whitespace, newlines included, to one space.
func clean(s string) string {
	return strings.Join(strings.Fields(strings.ToValidUTF8(s, "\uFFFD")), " ")
}

func phaseLabel(n int) string {
	if n == models.SemanticPhase {
		return "SEM"
	}
	return fmt.Sprintf("P%02d", n)
}
