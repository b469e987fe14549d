package report

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ShayCichocki/kbaudit/pkg/models"
)

func sampleFindings() []models.Finding {
	return []models.Finding{
		models.NewFinding(13, "trailing-whitespace", models.SeverityInfo, models.StatusWarn, "2 line(s) have trailing whitespace", "line 4", models.TierDeterministic),
		models.NewFinding(3, "color-field", models.SeverityCritical, models.StatusFail, "missing required field color", "metadata:color", models.TierDeterministic),
		models.NewFinding(7, "title-heading", models.SeverityWarning, models.StatusWarn, "entry does not open with a level-1 heading", "line 5", models.TierDeterministic),
		models.NewFinding(models.SemanticPhase, "accuracy", models.SeverityCritical, models.StatusFail, "claims the\nwrong default", "", models.TierAssisted),
	}
}

func TestFormat_ByteStable(t *testing.T) {
	a := Format(sampleFindings())
	b := Format(sampleFindings())
	if a != b {
		t.Errorf("Format not stable:\n%s\n%s", a, b)
	}
}

func TestFormat_SeverityOrderStable(t *testing.T) {
	out := Format(sampleFindings())
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("lines = %d, want header + 4 rows + summary:\n%s", len(lines), out)
	}
	wantOrder := []string{"color-field", "accuracy", "title-heading", "trailing-whitespace"}
	for i, want := range wantOrder {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("row %d = %q, want %s", i, lines[i+1], want)
		}
	}
	if !strings.HasPrefix(lines[5], "findings: 4 (critical 2, warning 1, info 1; fail 2, warn 2, pass 0)") {
		t.Errorf("summary = %q", lines[5])
	}
}

func TestFormat_FixedColumns(t *testing.T) {
	long := models.NewFinding(2, strings.Repeat("x", 40), models.SeverityWarning, models.StatusWarn, "m", "section:"+strings.Repeat("日", 20), models.TierAssisted)
	short := models.NewFinding(2, "c", models.SeverityWarning, models.StatusWarn, "m", "", models.TierAssisted)
	out := Format([]models.Finding{long, short})
	lines := strings.Split(out, "\n")
	prefix := func(s string) int { return width.StringWidth(s) - width.StringWidth("m") }
	if prefix(lines[1]) != prefix(lines[2]) {
		t.Errorf("rows have different widths:\n%s\n%s", lines[1], lines[2])
	}
	if !strings.Contains(lines[1], ellipsis) {
		t.Errorf("long values not truncated: %q", lines[1])
	}
}

func TestFormat_Empty(t *testing.T) {
	out := Format(nil)
	want := Header + "\n" + noFindings + "\nfindings: 0 (critical 0, warning 0, info 0; fail 0, warn 0, pass 0)\n"
	if out != want {
		t.Errorf("Format(nil) = %q, want %q", out, want)
	}
}

func TestFormat_ReparseIdempotent(t *testing.T) {
	cases := map[string][]models.Finding{
		"sample": sampleFindings(),
		"empty":  {},
		"truncated": {
			models.NewFinding(9, "code-fence-language-but-much-longer", models.SeverityInfo, models.StatusWarn, "  spaced   out  ", "section:"+strings.Repeat("長", 30), models.TierHybrid),
		},
		"invalid utf-8": {
			models.NewFinding(11, "placeholder-markers", models.SeverityWarning, models.StatusWarn, "placeholder in Caf\xe9", "section:Caf\xe9", models.TierAssisted),
		},
	}
	for name, findings := range cases {
		t.Run(name, func(t *testing.T) {
			first := Format(findings)
			parsed, err := Parse(first)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if second := Format(parsed); second != first {
				t.Errorf("reformat differs:\n%s\n---\n%s", first, second)
			}
		})
	}
}

func TestFormatResult_Parse(t *testing.T) {
	res := models.NewAuditResult("foo", sampleFindings())
	out := FormatResult(res)
	if !strings.HasPrefix(out, "entry: foo\nstatus: fail\n\n") {
		t.Errorf("FormatResult header = %q", out)
	}
	parsed, err := Parse(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != 4 {
		t.Fatalf("parsed %d findings, want 4", len(parsed))
	}
	if parsed[0].ID != res.Findings[1].ID || parsed[0].PhaseNumber != 3 {
		t.Errorf("parsed[0] = %+v", parsed[0])
	}
	if parsed[1].PhaseNumber != models.SemanticPhase || parsed[1].Location != "" {
		t.Errorf("semantic row = %+v", parsed[1])
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse("nothing here"); err != ErrNoTable {
		t.Errorf("err = %v, want ErrNoTable", err)
	}
	if _, err := Parse(Header + "\ngarbage\n"); err == nil {
		t.Error("expected error for malformed row")
	}
}

func TestJSON(t *testing.T) {
	res := models.NewAuditResult("foo", sampleFindings())
	a, err := JSON(res)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := JSON(res)
	if string(a) != string(b) {
		t.Error("JSON not stable")
	}
	var doc Document
	if err := json.Unmarshal(a, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Entry != "foo" || doc.Status != "fail" || len(doc.Findings) != 4 {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Findings[1].Message != "claims the\nwrong default" {
		t.Errorf("records should keep the raw message, got %q", doc.Findings[1].Message)
	}
}

func TestFormat_InvalidUTF8Replaced(t *testing.T) {
	out := Format([]models.Finding{
		models.NewFinding(11, "placeholder-markers", models.SeverityWarning, models.StatusWarn, "bad \xff byte", "section:Caf\xe9", models.TierAssisted),
	})
	if !utf8.ValidString(out) {
		t.Fatalf("output is not valid UTF-8: %q", out)
	}
	if !strings.Contains(out, "section:Caf\uFFFD") || !strings.Contains(out, "bad \uFFFD byte") {
		t.Errorf("invalid bytes not replaced:\n%s", out)
	}
}
