package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// counterValue sums a counter family for the given label pairs.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metric:
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestObserveAudit(t *testing.T) {
	m := New()
	result := models.NewAuditResult("foo", []models.Finding{
		models.NewFinding(3, "color-field", models.SeverityCritical, models.StatusFail, "missing color", "", models.TierDeterministic),
		models.NewFinding(13, "trailing-whitespace", models.SeverityInfo, models.StatusWarn, "trailing whitespace", "line 4", models.TierDeterministic),
		models.NewFinding(7, "title-heading", models.SeverityWarning, models.StatusPass, "title heading present", "", models.TierDeterministic),
	})
	m.ObserveAudit(result, 2*time.Millisecond)
	m.ObserveAudit(models.NewAuditResult("bar", nil), time.Millisecond)

	if got := counterValue(t, m, "kbaudit_audits_total", map[string]string{"status": "fail"}); got != 1 {
		t.Errorf("fail audits = %v, want 1", got)
	}
	if got := counterValue(t, m, "kbaudit_audits_total", nil); got != 2 {
		t.Errorf("audits = %v, want 2", got)
	}
	if got := counterValue(t, m, "kbaudit_findings_total", map[string]string{"severity": "critical"}); got != 1 {
		t.Errorf("critical findings = %v, want 1", got)
	}
	if got := counterValue(t, m, "kbaudit_findings_total", map[string]string{"status": "pass"}); got != 1 {
		t.Errorf("passing findings = %v, want 1", got)
	}
}

func TestObserveOutcome(t *testing.T) {
	m := New()
	m.ObserveOutcome(&orchestrator.Outcome{State: orchestrator.StateComplete, Iterations: 1})
	m.ObserveOutcome(&orchestrator.Outcome{State: orchestrator.StateEscalated, Iterations: 5})
	m.ObserveOutcome(&orchestrator.Outcome{State: orchestrator.StateComplete, Iterations: 2})
	m.ObserveOutcome(nil)

	if got := counterValue(t, m, "kbaudit_fix_runs_total", map[string]string{"state": "complete"}); got != 2 {
		t.Errorf("complete runs = %v, want 2", got)
	}
	if got := counterValue(t, m, "kbaudit_fix_runs_total", map[string]string{"state": "escalated"}); got != 1 {
		t.Errorf("escalated runs = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveAudit(models.NewAuditResult("foo", nil), time.Second)
	m.ObserveOutcome(&orchestrator.Outcome{})
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("nil WriteTextfile: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveOutcome(&orchestrator.Outcome{State: orchestrator.StateComplete, Iterations: 1})

	path := filepath.Join(t.TempDir(), "kbaudit.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `kbaudit_fix_runs_total{state="complete"} 1`) {
		t.Errorf("textfile missing outcome counter:\n%s", data)
	}

	if err := m.WriteTextfile(""); err != nil {
		t.Errorf("empty path should be a no-op, got %v", err)
	}
}
