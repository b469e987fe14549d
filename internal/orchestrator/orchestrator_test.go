package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/kbaudit/internal/audit"
	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/internal/phases"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

const fooMissingColor = `---
name: foo
description: Use when checking the fix loop
---
# Foo

Body.
`

const barWithHumanWork = "---\nname: bar\ndescription: Use when testing escalation\n---\n# Bar\n\nSee [[nope-one]], [[nope-two]] and [[nope-three]].   \n"

// setupLibrary writes entries into a fresh primary location.
func setupLibrary(t *testing.T, entries map[string]string) (*library.Library, string) {
	t.Helper()
	base := t.TempDir()
	primary := filepath.Join(base, "primary")
	for name, content := range entries {
		dir := filepath.Join(primary, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, library.DefaultEntryFile), []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return library.Open(primary, filepath.Join(base, "extended"), library.DefaultLayout()), primary
}

func readEntry(t *testing.T, primary, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(primary, name, library.DefaultEntryFile))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// hookReviewer calls fn on every review.
type hookReviewer struct {
	fn     func(iteration int)
	review Review
}

func (h *hookReviewer) Review(_ context.Context, _ *library.Entry, iteration int) (Review, error) {
	if h.fn != nil {
		h.fn(iteration)
	}
	return h.review, nil
}

func TestRun_DeterministicFixCompletes(t *testing.T) {
	lib, primary := setupLibrary(t, map[string]string{"foo": fooMissingColor})
	rec := &MemoryRecorder{}
	orch := New(lib, audit.NewEngine(), WithRecorder(rec))

	out, err := orch.Run(context.Background(), "foo", Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.State != StateComplete || out.Iterations != 1 {
		t.Errorf("state = %s, iterations = %d, want complete/1", out.State, out.Iterations)
	}
	if len(out.History) != 2 || len(out.History[0].Findings) != 1 {
		t.Fatalf("history = %+v", out.History)
	}
	if out.History[0].OverallStatus != models.StatusFail || out.History[0].Findings[0].PhaseNumber != 3 {
		t.Errorf("first audit = %+v", out.History[0])
	}
	if out.Final.OverallStatus != models.StatusPass || len(out.Findings()) != 0 {
		t.Errorf("final = %+v", out.Final)
	}
	if !strings.Contains(readEntry(t, primary, "foo"), "color: blue") {
		t.Error("fix was not written to disk")
	}

	want := []State{StateAuditing, StateDeciding, StateFixing, StateReauditing, StateComplete}
	got := rec.States("foo")
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRun_HumanRequiredEscalates(t *testing.T) {
	lib, _ := setupLibrary(t, map[string]string{"bar": barWithHumanWork})
	orch := New(lib, audit.NewEngine())

	out, err := orch.Run(context.Background(), "bar", Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.History[0].Findings) != 5 {
		t.Fatalf("first audit = %v, want 5 findings", out.History[0].Findings)
	}
	if out.State != StateEscalated || out.Iterations != MaxIterations {
		t.Errorf("state = %s, iterations = %d", out.State, out.Iterations)
	}
	if len(out.History) != MaxIterations+1 {
		t.Errorf("history length = %d, want %d", len(out.History), MaxIterations+1)
	}
	remaining := out.Remaining.Escalation()
	if len(remaining) != 3 {
		t.Fatalf("escalation = %v, want 3", remaining)
	}
	for _, f := range remaining {
		if f.Tier != models.TierHumanRequired {
			t.Errorf("unexpected tier in escalation: %+v", f)
		}
	}
	for i := 1; i < len(out.History); i++ {
		if out.History[i].OpenCount() > out.History[i-1].OpenCount() {
			t.Errorf("open count grew at audit %d", i)
		}
	}
	rep := NewEscalationReport(out)
	if rep == nil || len(rep.Human) != 3 || !strings.Contains(rep.String(), "nope-two") {
		t.Errorf("escalation report = %+v", rep)
	}
}

func TestRun_Regression(t *testing.T) {
	flag := phases.New(1, "flag", models.CriticalityMedium, models.TierDeterministic, func(e *library.Entry) ([]phases.Issue, error) {
		for _, l := range e.Body {
			if l == "BAD" {
				return []phases.Issue{{Message: "bad line"}}, nil
			}
		}
		return nil, nil
	}).WithRemedy(func(e *library.Entry, _ models.Finding) (*library.Entry, error) {
		return e.WithBody([]string{"X1", "X2", ""}), nil
	})
	xs := phases.New(2, "xs", models.CriticalityMedium, models.TierHumanRequired, func(e *library.Entry) ([]phases.Issue, error) {
		var out []phases.Issue
		for i, l := range e.Body {
			if strings.HasPrefix(l, "X") {
				out = append(out, phases.Issue{Message: "x line", Location: phases.LineLocation(e.DocLine(i))})
			}
		}
		return out, nil
	})

	lib, primary := setupLibrary(t, map[string]string{"reg": "BAD\n"})
	orch := New(lib, audit.NewEngine(audit.WithPhases([]phases.Phase{flag, xs})))

	out, err := orch.Run(context.Background(), "reg", Options{})
	var regErr *RegressionError
	if !errors.As(err, &regErr) {
		t.Fatalf("err = %v, want RegressionError", err)
	}
	if out.State != StateError || !errors.Is(out.Err, ErrRegression) {
		t.Errorf("outcome = %s, %v", out.State, out.Err)
	}
	if regErr.Delta.Before != 1 || regErr.Delta.After != 2 || len(regErr.Delta.Introduced) != 2 || len(regErr.Delta.Resolved) != 1 {
		t.Errorf("delta = %+v", regErr.Delta)
	}
	if !out.RolledBack || readEntry(t, primary, "reg") != "BAD\n" {
		t.Errorf("regressing fix was not rolled back: %q", readEntry(t, primary, "reg"))
	}
	if len(out.Findings()) != 1 || out.Findings()[0].Message != "bad line" {
		t.Errorf("final findings = %v, want the audit of the restored content", out.Findings())
	}
	if last := out.History[len(out.History)-1]; len(last.Findings) != 2 {
		t.Errorf("history should end with the regressed audit, got %v", last.Findings)
	}
}

func TestRun_AssistedRewrite(t *testing.T) {
	content := "---\nname: foo\ncolor: blue\n---\n# Foo\n\nBody.\n"
	lib, primary := setupLibrary(t, map[string]string{"foo": content})
	id := models.NewFinding(4, "description-field", models.SeverityCritical, models.StatusFail,
		"missing required field description", "metadata:description", models.TierAssisted).ID
	reviewer := NewStaticReviewer(Review{Rewrites: []Rewrite{{FindingID: id, Text: "Use when rewriting descriptions"}}})
	orch := New(lib, audit.NewEngine(), WithReviewer(reviewer))

	out, err := orch.Run(context.Background(), "foo", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateComplete {
		t.Fatalf("state = %s, findings = %v, skipped = %v", out.State, out.Findings(), out.Skipped)
	}
	if !strings.Contains(readEntry(t, primary, "foo"), "description: Use when rewriting descriptions") {
		t.Errorf("rewrite not applied:\n%s", readEntry(t, primary, "foo"))
	}
}

func TestRun_SemanticFindingWithRewrite(t *testing.T) {
	content := fooMissingColor[:len(fooMissingColor)-len("Body.\n")] + "## Usage\n\nWrong claim.\n"
	content = strings.Replace(content, "---\n#", "color: blue\n---\n#", 1)
	lib, primary := setupLibrary(t, map[string]string{"foo": content})

	sf := audit.SemanticFinding{Severity: "critical", Criterion: "accuracy", Message: "usage is wrong", Location: "section:Usage"}
	reviewer := NewStaticReviewer(Review{
		Findings: []audit.SemanticFinding{sf},
		Rewrites: []Rewrite{{FindingID: sf.Finding().ID, Text: "\nCorrect claim."}},
	})
	out, err := New(lib, audit.NewEngine(), WithReviewer(reviewer)).Run(context.Background(), "foo", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateComplete || out.Iterations != 1 {
		t.Fatalf("state = %s after %d, findings = %v", out.State, out.Iterations, out.Findings())
	}
	if got := readEntry(t, primary, "foo"); !strings.Contains(got, "## Usage\n\nCorrect claim.\n") {
		t.Errorf("section not rewritten:\n%s", got)
	}
}

func TestRun_HybridNeedsResolution(t *testing.T) {
	content := "---\nname: foo\ndescription: Use when fencing\ncolor: blue\n---\n# Foo\n\n```\nls\n```\n"
	id := models.NewFinding(9, "code-fence-language", models.SeverityInfo, models.StatusWarn,
		"code fence has no language", "line 8", models.TierHybrid).ID

	t.Run("resolved", func(t *testing.T) {
		lib, primary := setupLibrary(t, map[string]string{"foo": content})
		out, err := New(lib, audit.NewEngine()).Run(context.Background(), "foo", Options{
			Resolutions: []Resolution{{FindingID: id, Text: "sh"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if out.State != StateComplete {
			t.Fatalf("state = %s, skipped = %v", out.State, out.Skipped)
		}
		if !strings.Contains(readEntry(t, primary, "foo"), "```sh\n") {
			t.Error("resolution not applied")
		}
	})

	t.Run("unresolved", func(t *testing.T) {
		lib, _ := setupLibrary(t, map[string]string{"foo": content})
		out, err := New(lib, audit.NewEngine()).Run(context.Background(), "foo", Options{})
		if err != nil {
			t.Fatal(err)
		}
		if out.State != StateEscalated || len(out.Remaining.Hybrid) != 1 {
			t.Errorf("state = %s, remaining = %+v", out.State, out.Remaining)
		}
		if len(out.Applied) != 0 {
			t.Errorf("applied = %v, want nothing", out.Applied)
		}
	})
}

func TestRun_SkipKeepsFindings(t *testing.T) {
	lib, primary := setupLibrary(t, map[string]string{"foo": fooMissingColor})
	ctl := NewControl()
	reviewer := &hookReviewer{fn: func(int) { ctl.Skip() }}
	out, err := New(lib, audit.NewEngine(), WithReviewer(reviewer)).Run(context.Background(), "foo", Options{Control: ctl})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateComplete || out.Iterations != 0 {
		t.Errorf("state = %s, iterations = %d", out.State, out.Iterations)
	}
	if len(out.Findings()) != 1 {
		t.Errorf("findings = %v, want the open color finding", out.Findings())
	}
	if readEntry(t, primary, "foo") != fooMissingColor {
		t.Error("skipped run modified the entry")
	}
}

func TestRun_Cancel(t *testing.T) {
	lib, _ := setupLibrary(t, map[string]string{"foo": fooMissingColor})

	t.Run("control", func(t *testing.T) {
		ctl := NewControl()
		reviewer := &hookReviewer{fn: func(int) { ctl.Cancel() }}
		out, err := New(lib, audit.NewEngine(), WithReviewer(reviewer)).Run(context.Background(), "foo", Options{Control: ctl})
		if err != nil {
			t.Fatal(err)
		}
		if out.State != StateCancelled || !errors.Is(out.Err, ErrCancelled) {
			t.Errorf("outcome = %s, %v", out.State, out.Err)
		}
	})

	t.Run("context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out, err := New(lib, audit.NewEngine()).Run(ctx, "foo", Options{})
		if err != nil {
			t.Fatal(err)
		}
		if out.State != StateCancelled || !errors.Is(out.Err, context.Canceled) {
			t.Errorf("outcome = %s, %v", out.State, out.Err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		reviewer := &hookReviewer{fn: func(int) { time.Sleep(20 * time.Millisecond) }}
		out, err := New(lib, audit.NewEngine(), WithReviewer(reviewer)).
			Run(context.Background(), "foo", Options{Timeout: time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		if out.State != StateCancelled || !errors.Is(out.Err, context.DeadlineExceeded) {
			t.Errorf("outcome = %s, %v", out.State, out.Err)
		}
	})
}

func TestRun_Locked(t *testing.T) {
	lib, _ := setupLibrary(t, map[string]string{"foo": fooMissingColor})
	lock := NewEntryLock("")
	release, err := lock.Acquire("foo")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if _, err := New(lib, audit.NewEngine(), WithLock(lock)).Run(context.Background(), "foo", Options{}); !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestRun_NotFound(t *testing.T) {
	lib, _ := setupLibrary(t, map[string]string{"foo": fooMissingColor})
	out, err := New(lib, audit.NewEngine()).Run(context.Background(), "fo", Options{})
	if !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if out == nil || out.State != StateError {
		t.Errorf("outcome = %+v", out)
	}
}

func TestRun_MalformedSemanticInput(t *testing.T) {
	lib, _ := setupLibrary(t, map[string]string{"foo": fooMissingColor})
	reviewer := &hookReviewer{review: Review{Findings: []audit.SemanticFinding{{Severity: "urgent", Criterion: "c", Message: "m"}}}}
	out, err := New(lib, audit.NewEngine(), WithReviewer(reviewer)).Run(context.Background(), "foo", Options{})
	if !errors.Is(err, audit.ErrMalformedSemanticFinding) {
		t.Fatalf("err = %v", err)
	}
	if out.State != StateError || out.Final != nil {
		t.Errorf("outcome = %+v", out)
	}
}

func TestRun_Resume(t *testing.T) {
	lib, _ := setupLibrary(t, map[string]string{"bar": barWithHumanWork})
	orch := New(lib, audit.NewEngine())
	out, err := orch.Run(context.Background(), "bar", Options{ResumeIteration: MaxIterations - 1})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateEscalated || out.Iterations != MaxIterations || len(out.History) != 2 {
		t.Errorf("state = %s, iterations = %d, history = %d", out.State, out.Iterations, len(out.History))
	}
	if _, err := orch.Run(context.Background(), "bar", Options{ResumeIteration: MaxIterations}); err == nil {
		t.Error("resume past the bound should fail")
	}
}

func TestRun_DryRun(t *testing.T) {
	lib, primary := setupLibrary(t, map[string]string{"foo": fooMissingColor})
	store := NewDryRunStore(lib)
	out, err := New(store, audit.NewEngine()).Run(context.Background(), "foo", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateComplete {
		t.Errorf("state = %s", out.State)
	}
	if readEntry(t, primary, "foo") != fooMissingColor {
		t.Error("dry run wrote to disk")
	}
	changed := store.Changed()
	if len(changed) != 1 || changed[0].Name != "foo" {
		t.Fatalf("changed = %v", changed)
	}
	if v, _ := changed[0].Metadata.Get("color"); v != "blue" {
		t.Errorf("color = %q", v)
	}
}

func TestRunMany(t *testing.T) {
	lib, _ := setupLibrary(t, map[string]string{"foo": fooMissingColor, "bar": barWithHumanWork})
	outs := New(lib, audit.NewEngine()).RunMany(context.Background(), []string{"foo", "bar", "foo", "missing"}, Options{}, 4)
	if len(outs) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outs))
	}
	want := []State{StateComplete, StateEscalated, StateError}
	for i, out := range outs {
		if out.State != want[i] {
			t.Errorf("%s: state = %s, want %s", out.EntryName, out.State, want[i])
		}
	}
}
