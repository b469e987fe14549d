package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/kbaudit/internal/audit"
	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

func TestControl(t *testing.T) {
	var nilCtl *Control
	if nilCtl.Pending() != RequestNone {
		t.Error("nil control should have no request")
	}

	c := NewControl()
	if c.Pending() != RequestNone {
		t.Error("new control should have no request")
	}
	c.Skip()
	if c.Pending() != RequestSkip {
		t.Errorf("pending = %v, want skip", c.Pending())
	}
	c.Cancel()
	c.Skip()
	if c.Pending() != RequestCancel {
		t.Errorf("pending = %v, want cancel to win", c.Pending())
	}
}

func TestStateTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StateAuditing, false},
		{StateDeciding, false},
		{StateFixing, false},
		{StateReauditing, false},
		{StateComplete, true},
		{StateEscalated, true},
		{StateError, true},
		{StateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
		if !tt.state.Valid() {
			t.Errorf("%s should be valid", tt.state)
		}
	}
	if State("paused").Valid() {
		t.Error("unknown state should not be valid")
	}
}

func TestStaticReviewer(t *testing.T) {
	settled := audit.SemanticFinding{Severity: "warning", Criterion: "clarity", Message: "vague"}
	open := audit.SemanticFinding{Severity: "warning", Criterion: "accuracy", Message: "wrong"}
	r := NewStaticReviewer(Review{
		Findings: []audit.SemanticFinding{settled, open},
		Rewrites: []Rewrite{{FindingID: settled.Finding().ID, Text: "clear"}},
	})
	entry := library.Parse("foo", library.LocationPrimary, "", []byte("# Foo\n"))

	first, err := r.Review(context.Background(), entry, 0)
	if err != nil || len(first.Findings) != 2 {
		t.Fatalf("iteration 0 = %+v, %v", first, err)
	}
	later, _ := r.Review(context.Background(), entry, 1)
	if len(later.Findings) != 1 || later.Findings[0].Message != "wrong" {
		t.Errorf("iteration 1 findings = %+v", later.Findings)
	}
	if len(later.Rewrites) != 1 {
		t.Errorf("rewrites should be kept: %+v", later.Rewrites)
	}
}

func TestEvents(t *testing.T) {
	lib, _ := setupLibrary(t, map[string]string{"foo": fooMissingColor})
	em := NewEventStream(64)
	if _, err := New(lib, audit.NewEngine(), WithEvents(em)).Run(context.Background(), "foo", Options{RunID: "run-1"}); err != nil {
		t.Fatal(err)
	}
	em.Close()

	var types []EventType
	for ev := range em.Events() {
		if ev.RunID != "run-1" {
			t.Errorf("event run id = %q", ev.RunID)
		}
		types = append(types, ev.Type)
	}
	if len(types) == 0 || types[len(types)-1] != EventRunDone {
		t.Fatalf("events = %v, want run_done last", types)
	}
	var applied int
	for _, ty := range types {
		if ty == EventFixApplied {
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("fix_applied events = %d, want 1", applied)
	}
}

func TestOutcomeObserverAndTimeout(t *testing.T) {
	lib, _ := setupLibrary(t, map[string]string{"foo": fooMissingColor})
	var seen *Outcome
	orch := New(lib, audit.NewEngine(), WithOutcomeObserver(func(o *Outcome) { seen = o }))
	out, err := orch.Run(context.Background(), "foo", Options{Timeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if seen != out {
		t.Error("observer did not see the outcome")
	}
	if out.RunID == "" {
		t.Error("run id should be generated")
	}
}

func TestEscalationReport(t *testing.T) {
	if NewEscalationReport(&Outcome{Final: models.NewAuditResult("foo", nil)}) != nil {
		t.Error("clean outcome should give no report")
	}

	human := models.NewFinding(10, "broken-references", models.SeverityCritical, models.StatusFail,
		`unresolved entry reference "gone"`, "line 7", models.TierHumanRequired)
	assisted := models.NewFinding(4, "description-field", models.SeverityCritical, models.StatusFail,
		"missing required field description", "metadata:description", models.TierAssisted)
	final := models.NewAuditResult("foo", []models.Finding{human, assisted})
	out := &Outcome{
		EntryName:  "foo",
		State:      StateEscalated,
		Iterations: MaxIterations,
		Final:      final,
		Remaining:  Partition(final.Findings),
		Skipped: []SkippedFix{
			{Finding: assisted, Reason: "first"},
			{Finding: assisted, Reason: "no rewrite supplied"},
		},
	}
	rep := NewEscalationReport(out)
	if rep == nil {
		t.Fatal("expected a report")
	}
	if len(rep.Human) != 1 || len(rep.Unfixed) != 1 || rep.Unfixed[0].Reason != "no rewrite supplied" {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Findings()) != 2 {
		t.Errorf("findings = %v", rep.Findings())
	}
	s := rep.String()
	for _, want := range []string{"foo needs attention after 5", "gone", "no rewrite supplied"} {
		if !strings.Contains(s, want) {
			t.Errorf("report missing %q:\n%s", want, s)
		}
	}
}
