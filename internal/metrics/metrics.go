// Package metrics exposes audit and fix-loop counters for the Prometheus
// node-exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// Metrics holds the collectors for one process. Collectors register on a
// private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Audits completed by overall status
	Audits *prometheus.CounterVec

	// Findings reported, by severity and status
	Findings *prometheus.CounterVec

	// Audit latency
	AuditLatency prometheus.Histogram

	// Fix-loop runs by terminal state
	Outcomes *prometheus.CounterVec

	// Iterations used per fix-loop run
	Iterations prometheus.Histogram
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		Audits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kbaudit_audits_total",
			Help: "Total audits completed by overall status",
		}, []string{"status"}),

		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kbaudit_findings_total",
			Help: "Total findings reported by severity and status",
		}, []string{"severity", "status"}),

		AuditLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kbaudit_audit_duration_seconds",
			Help:    "Duration of a single entry audit",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),

		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kbaudit_fix_runs_total",
			Help: "Total fix-loop runs by terminal state",
		}, []string{"state"}),

		Iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kbaudit_fix_iterations",
			Help:    "Iterations used by a fix-loop run",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAudit records one completed audit. It matches audit.Observer.
func (m *Metrics) ObserveAudit(result *models.AuditResult, elapsed time.Duration) {
	if m == nil || result == nil {
		return
	}
	m.Audits.WithLabelValues(string(result.OverallStatus)).Inc()
	for _, f := range result.Findings {
		m.Findings.WithLabelValues(string(f.Severity), string(f.Status)).Inc()
	}
	m.AuditLatency.Observe(elapsed.Seconds())
}

// ObserveOutcome records one finished fix-loop run. It matches
// orchestrator.OutcomeObserver.
func (m *Metrics) ObserveOutcome(out *orchestrator.Outcome) {
	if m == nil || out == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(out.State)).Inc()
	m.Iterations.Observe(float64(out.Iterations))
}

// WriteTextfile writes every collector to path in the text exposition
// format. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
