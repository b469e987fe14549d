//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/kbaudit/internal/audit"
	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
	"github.com/ShayCichocki/kbaudit/internal/phases"
	"github.com/ShayCichocki/kbaudit/internal/report"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// kb is a two-location library rooted in a temp dir.
type kb struct {
	lib      *library.Library
	primary  string
	extended string
}

func newKB(t *testing.T) *kb {
	t.Helper()
	base := t.TempDir()
	k := &kb{primary: filepath.Join(base, "primary"), extended: filepath.Join(base, "extended")}
	k.lib = library.Open(k.primary, k.extended, library.DefaultLayout())
	return k
}

func (k *kb) write(t *testing.T, loc library.Location, name, content string) {
	t.Helper()
	root := k.primary
	if loc == library.LocationExtended {
		root = k.extended
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, library.DefaultEntryFile), []byte(content), 0644); err != nil {
		t.Fatalf("write entry: %v", err)
	}
}

const fooMissingColor = `---
name: foo
description: Use when exercising the integration suite
---
# Foo

Body.
`

const barWithHumanWork = "---\nname: bar\ndescription: Use when exercising escalation\n---\n# Bar\n\nSee [[nope-one]], [[nope-two]] and [[nope-three]].   \n"

// TestScenario_DeterministicFix is a missing color fixed in one iteration.
func TestScenario_DeterministicFix(t *testing.T) {
	k := newKB(t)
	k.write(t, library.LocationPrimary, "foo", fooMissingColor)

	entry, err := k.lib.Load("foo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	first, err := audit.NewEngine().Run(context.Background(), entry, audit.Options{})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	open := first.NonPassing()
	if first.OverallStatus != models.StatusFail || len(open) != 1 || open[0].Severity != models.SeverityCritical {
		t.Fatalf("first audit = %s with %v, want one critical failure", first.OverallStatus, open)
	}

	out, err := orchestrator.New(k.lib, audit.NewEngine()).Run(context.Background(), "foo", orchestrator.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != orchestrator.StateComplete || out.Iterations != 1 {
		t.Errorf("outcome = %s after %d, want complete after 1", out.State, out.Iterations)
	}
	if out.Final.OverallStatus != models.StatusPass || len(out.Final.NonPassing()) != 0 {
		t.Errorf("final = %s with %d open", out.Final.OverallStatus, len(out.Final.NonPassing()))
	}
}

// TestScenario_Escalation is human-required work outliving the bound.
func TestScenario_Escalation(t *testing.T) {
	k := newKB(t)
	k.write(t, library.LocationPrimary, "bar", barWithHumanWork)

	out, err := orchestrator.New(k.lib, audit.NewEngine()).Run(context.Background(), "bar", orchestrator.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != orchestrator.StateEscalated || out.Iterations != orchestrator.MaxIterations {
		t.Fatalf("outcome = %s after %d, want escalated after %d", out.State, out.Iterations, orchestrator.MaxIterations)
	}
	if got := len(out.History[0].NonPassing()); got != 5 {
		t.Errorf("first audit has %d open findings, want 5", got)
	}
	if got := len(out.Final.NonPassing()); got != 3 {
		t.Errorf("final audit has %d open findings, want 3", got)
	}
	for _, f := range out.Final.NonPassing() {
		if f.Tier != models.TierHumanRequired {
			t.Errorf("remaining finding %s has tier %s, want human-required", f.ID, f.Tier)
		}
	}
	if got := len(orchestrator.NewEscalationReport(out).Human); got != 3 {
		t.Errorf("escalation lists %d human findings, want 3", got)
	}
}

// TestScenario_PhaseFault is one panicking phase among the catalog.
func TestScenario_PhaseFault(t *testing.T) {
	k := newKB(t)
	k.write(t, library.LocationPrimary, "baz", strings.ReplaceAll(fooMissingColor, "foo", "baz")+"\n")

	broken := phases.New(99, "always-panics", models.CriticalityLow, models.TierDeterministic,
		func(*library.Entry) ([]phases.Issue, error) { panic("boom") })
	catalog := append(phases.All(), broken)

	entry, err := k.lib.Load("baz")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	healthy, err := audit.NewEngine().Run(context.Background(), entry, audit.Options{})
	if err != nil {
		t.Fatalf("healthy audit: %v", err)
	}
	faulty, err := audit.NewEngine(audit.WithPhases(catalog)).Run(context.Background(), entry, audit.Options{})
	if err != nil {
		t.Fatalf("faulty audit: %v", err)
	}

	if faulty.OverallStatus != models.StatusFail {
		t.Errorf("status = %s, want fail", faulty.OverallStatus)
	}
	if len(faulty.Findings) != len(healthy.Findings)+1 {
		t.Fatalf("faulty audit has %d findings, want %d", len(faulty.Findings), len(healthy.Findings)+1)
	}
	for i, f := range healthy.Findings {
		if faulty.Findings[i] != f {
			t.Errorf("finding %d changed: %v vs %v", i, faulty.Findings[i], f)
		}
	}
	fault := faulty.Findings[len(faulty.Findings)-1]
	if fault.PhaseNumber != 99 || fault.Severity != models.SeverityCritical || !strings.Contains(fault.Message, "always-panics") {
		t.Errorf("fault finding = %v", fault)
	}
}

// TestScenario_MalformedSemantic is an unknown severity failing closed.
func TestScenario_MalformedSemantic(t *testing.T) {
	k := newKB(t)
	k.write(t, library.LocationPrimary, "foo", fooMissingColor)
	entry, err := k.lib.Load("foo")
	if err != nil {
		t.Fatal(err)
	}

	_, err = audit.DecodeSemanticFindings([]byte(`[{"severity":"urgent","criterion":"clarity","message":"vague"}]`))
	if !errors.Is(err, audit.ErrMalformedSemanticFinding) {
		t.Fatalf("decode error = %v, want ErrMalformedSemanticFinding", err)
	}

	result, err := audit.NewEngine().Run(context.Background(), entry, audit.Options{
		SemanticFindings: []audit.SemanticFinding{{Severity: "urgent", Criterion: "clarity", Message: "vague"}},
	})
	var malformed *audit.MalformedSemanticFindingError
	if !errors.As(err, &malformed) {
		t.Fatalf("Run error = %v, want MalformedSemanticFindingError", err)
	}
	if result != nil {
		t.Errorf("Run returned a partial result: %v", result.Findings)
	}
}

// TestScenario_DuplicateLocation is the same name in both locations.
func TestScenario_DuplicateLocation(t *testing.T) {
	k := newKB(t)
	k.write(t, library.LocationPrimary, "qux", "# Qux\n")
	k.write(t, library.LocationExtended, "qux", "# Qux\n")

	for i := 0; i < 2; i++ {
		_, err := k.lib.Load("qux")
		var dup *library.DuplicateLocationError
		if !errors.As(err, &dup) {
			t.Fatalf("Load #%d error = %v, want DuplicateLocationError", i+1, err)
		}
		if len(dup.Paths) != 2 {
			t.Errorf("paths = %v, want both copies", dup.Paths)
		}
	}
	for _, err := range k.lib.List(context.Background(), library.Filter{}) {
		if !errors.Is(err, library.ErrDuplicateLocation) {
			t.Errorf("List error = %v, want ErrDuplicateLocation", err)
		}
	}
}

// TestAuditReportDeterminism re-audits and re-formats the same entry.
func TestAuditReportDeterminism(t *testing.T) {
	k := newKB(t)
	k.write(t, library.LocationPrimary, "bar", barWithHumanWork)
	entry, err := k.lib.Load("bar")
	if err != nil {
		t.Fatal(err)
	}
	semantic := []audit.SemanticFinding{{Severity: "warning", Criterion: "clarity", Message: "intro is vague", Location: "section:Bar"}}

	var reports []string
	for i := 0; i < 3; i++ {
		res, err := audit.NewEngine().Run(context.Background(), entry, audit.Options{SemanticFindings: semantic})
		if err != nil {
			t.Fatal(err)
		}
		reports = append(reports, report.FormatResult(res))
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] != reports[0] {
			t.Errorf("report %d differs:\n%s\nvs\n%s", i, reports[i], reports[0])
		}
	}

	parsed, err := report.Parse(reports[0])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if again := report.Format(parsed); !strings.Contains(reports[0], again) {
		t.Errorf("reformatted table is not part of the original report:\n%s", again)
	}
}
