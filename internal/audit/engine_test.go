package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/internal/phases"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

const fooMissingColor = `---
name: foo
description: Use when checking audits
---
# Foo

Body.
`

func entry(t *testing.T, name, content string) *library.Entry {
	t.Helper()
	return library.Parse(name, library.LocationPrimary, name+"/ENTRY.md", []byte(content))
}

// issuePhase always reports one issue.
func issuePhase(number int, msg string, crit models.Criticality, delay time.Duration) phases.Phase {
	return phases.New(number, "test-"+msg, crit, models.TierDeterministic, func(*library.Entry) ([]phases.Issue, error) {
		time.Sleep(delay)
		return []phases.Issue{{Message: msg}}, nil
	})
}

func TestRun_MissingColor(t *testing.T) {
	res, err := NewEngine().Run(context.Background(), entry(t, "foo", fooMissingColor), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.OverallStatus != models.StatusFail {
		t.Errorf("OverallStatus = %s, want fail", res.OverallStatus)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("Findings = %v, want 1", res.Findings)
	}
	f := res.Findings[0]
	if f.PhaseNumber != 3 || f.Severity != models.SeverityCritical || f.Tier != models.TierDeterministic {
		t.Errorf("finding = %+v", f)
	}
}

func TestRun_Deterministic(t *testing.T) {
	e := entry(t, "foo", "# Foo  \n### Deep\n```\nx\n```\nTODO\n")
	semantic := []SemanticFinding{{Severity: "warning", Criterion: "clarity", Message: "vague"}}
	eng := NewEngine()
	a, err := eng.Run(context.Background(), e, Options{SemanticFindings: semantic, Workers: 8})
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.Run(context.Background(), e, Options{SemanticFindings: semantic, Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Errorf("results differ:\n%v\n%v", a.Findings, b.Findings)
	}
}

func TestRun_PhaseOrderIndependentOfCompletion(t *testing.T) {
	eng := NewEngine(WithPhases([]phases.Phase{
		issuePhase(3, "third", models.CriticalityLow, 0),
		issuePhase(1, "first", models.CriticalityLow, 30*time.Millisecond),
		issuePhase(2, "second", models.CriticalityLow, 10*time.Millisecond),
	}))
	res, err := eng.Run(context.Background(), entry(t, "foo", "# Foo\n"), Options{Workers: 3})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, f := range res.Findings {
		got = append(got, f.Message)
	}
	if strings.Join(got, ",") != "first,second,third" {
		t.Errorf("order = %v", got)
	}
}

func TestRun_FaultIsolation(t *testing.T) {
	panicking := phases.New(2, "exploding", models.CriticalityLow, models.TierDeterministic, func(*library.Entry) ([]phases.Issue, error) {
		panic("boom")
	})
	failing := phases.New(4, "erroring", models.CriticalityLow, models.TierDeterministic, func(*library.Entry) ([]phases.Issue, error) {
		return nil, errors.New("bad state")
	})
	eng := NewEngine(WithPhases([]phases.Phase{
		issuePhase(1, "one", models.CriticalityLow, 0),
		panicking,
		issuePhase(3, "three", models.CriticalityLow, 0),
		failing,
	}))

	res, err := eng.Run(context.Background(), entry(t, "baz", "# Baz\n"), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.OverallStatus != models.StatusFail {
		t.Errorf("OverallStatus = %s, want fail", res.OverallStatus)
	}
	if len(res.Findings) != 4 {
		t.Fatalf("Findings = %v, want 4", res.Findings)
	}
	broken := res.Findings[1]
	if broken.Severity != models.SeverityCritical || !strings.Contains(broken.Message, "exploding") || !strings.Contains(broken.Message, "boom") {
		t.Errorf("panic finding = %+v", broken)
	}
	if !strings.Contains(res.Findings[3].Message, "erroring") {
		t.Errorf("error finding = %+v", res.Findings[3])
	}
	if res.Findings[0].Message != "one" || res.Findings[2].Message != "three" {
		t.Errorf("healthy phases lost: %v", res.Findings)
	}
}

func TestRun_ZeroApplicablePhases(t *testing.T) {
	archived := entry(t, "old", "---\ncategory: archive\n---\nTODO\n")
	res, err := NewEngine().Run(context.Background(), archived, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.OverallStatus != models.StatusPass || len(res.Findings) != 0 {
		t.Errorf("result = %+v, want empty pass", res)
	}
}

func TestRun_MinimumScope(t *testing.T) {
	e := entry(t, "foo", "---\nname: foo\ncolor: blue\ndescription: Use when x\n---\nno title\n")
	eng := NewEngine()
	full, _ := eng.Run(context.Background(), e, Options{Scope: phases.ScopeFull})
	minimum, _ := eng.Run(context.Background(), e, Options{Scope: phases.ScopeMinimum})
	if len(full.Findings) != 1 || full.Findings[0].PhaseNumber != 7 {
		t.Fatalf("full findings = %v", full.Findings)
	}
	if len(minimum.Findings) != 0 {
		t.Errorf("minimum findings = %v, want none", minimum.Findings)
	}
	extra, _ := eng.Run(context.Background(), e, Options{Scope: phases.ScopeMinimum, Phases: []int{7}})
	if len(extra.Findings) != 1 {
		t.Errorf("explicit phase findings = %v, want 1", extra.Findings)
	}
}

func TestRun_SemanticMergeAndDedupe(t *testing.T) {
	eng := NewEngine(WithPhases([]phases.Phase{issuePhase(1, "structural", models.CriticalityMedium, 0)}))
	semantic := []SemanticFinding{
		{Severity: "info", Criterion: "tone", Message: "b"},
		{Severity: "critical", Criterion: "accuracy", Message: "a", Location: "section:Usage"},
		{Severity: "info", Criterion: "tone", Message: "b"},
	}
	res, err := eng.Run(context.Background(), entry(t, "foo", "# Foo\n"), Options{SemanticFindings: semantic})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 3 {
		t.Fatalf("Findings = %v, want 3", res.Findings)
	}
	if res.Findings[0].Message != "structural" || res.Findings[1].Message != "b" || res.Findings[2].Message != "a" {
		t.Errorf("merge order = %v", res.Findings)
	}
	if !res.Findings[1].IsSemantic() || res.Findings[1].Status != models.StatusPass {
		t.Errorf("info semantic finding = %+v", res.Findings[1])
	}
	if res.OverallStatus != models.StatusFail {
		t.Errorf("OverallStatus = %s", res.OverallStatus)
	}
}

func TestRun_RejectsMalformedSemantic(t *testing.T) {
	res, err := NewEngine().Run(context.Background(), entry(t, "foo", fooMissingColor), Options{
		SemanticFindings: []SemanticFinding{
			{Severity: "warning", Criterion: "ok", Message: "fine"},
			{Severity: "urgent", Criterion: "x", Message: "y"},
		},
	})
	if res != nil {
		t.Errorf("partial result returned: %+v", res)
	}
	var mal *MalformedSemanticFindingError
	if !errors.As(err, &mal) || mal.Index != 1 {
		t.Fatalf("err = %v, want MalformedSemanticFindingError at index 1", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEngine().Run(ctx, entry(t, "foo", "# Foo\n"), Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRun_Observer(t *testing.T) {
	var seen *models.AuditResult
	eng := NewEngine(WithObserver(func(r *models.AuditResult, _ time.Duration) { seen = r }))
	res, err := eng.Run(context.Background(), entry(t, "foo", fooMissingColor), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if seen != res {
		t.Error("observer did not receive the result")
	}
}
