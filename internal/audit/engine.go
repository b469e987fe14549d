// Package audit runs the phase catalog against an entry and merges in
// findings supplied by the external semantic reviewer.
package audit

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/internal/phases"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// PhaseFaultError describes a phase whose evaluation failed or panicked.
// It never escapes Run; it becomes the message of a critical finding.
type PhaseFaultError struct {
	Phase int
	Name  string
	Err   error
}

func (e *PhaseFaultError) Error() string {
	return fmt.Sprintf("phase %02d (%s) is broken: %v", e.Phase, e.Name, e.Err)
}

func (e *PhaseFaultError) Unwrap() error { return e.Err }

// Options controls a single audit run.
type Options struct {
	// Scope picks minimum (critical and high) or full.
	Scope phases.Scope
	// Phases adds phases by number on top of Scope. Phases that do not
	// apply to the entry's category are still skipped.
	Phases []int
	// SemanticFindings are appended after structural findings, in order.
	// A nil slice means the reviewer supplied nothing.
	SemanticFindings []SemanticFinding
	// Workers caps concurrent phase evaluations. Zero uses GOMAXPROCS.
	Workers int
}

// Observer is told about every completed audit.
type Observer func(result *models.AuditResult, elapsed time.Duration)

// Engine evaluates a phase set against entries. It holds no per-run state
// and is safe for concurrent use.
type Engine struct {
	phases   []phases.Phase
	workers  int
	observer Observer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPhases replaces the catalog with a custom phase list.
func WithPhases(list []phases.Phase) EngineOption {
	return func(e *Engine) {
		e.phases = append([]phases.Phase{}, list...)
	}
}

// WithWorkers sets the default worker count.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) { e.workers = n }
}

// WithObserver registers a completion callback.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates an engine over the phase catalog.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{phases: phases.All()}
	for _, opt := range opts {
		opt(e)
	}
	sort.SliceStable(e.phases, func(i, j int) bool {
		return e.phases[i].Number() < e.phases[j].Number()
	})
	return e
}

// Phase looks up a phase in the engine's set by number.
func (e *Engine) Phase(n int) (phases.Phase, bool) {
	for _, p := range e.phases {
		if p.Number() == n {
			return p, true
		}
	}
	return phases.Phase{}, false
}

// Select returns the phases Run would evaluate for entry, in order.
func (e *Engine) Select(entry *library.Entry, opts Options) []phases.Phase {
	scope := opts.Scope
	if scope == "" {
		scope = phases.ScopeFull
	}
	var out []phases.Phase
	for _, p := range e.phases {
		if p.InScope(entry, scope) || (slices.Contains(opts.Phases, p.Number()) && p.Applicable(entry)) {
			out = append(out, p)
		}
	}
	return out
}

// Run audits one entry. Semantic input is validated before any phase runs,
// so a malformed batch fails without a partial result. A phase that errors
// or panics is reported as a critical finding and the rest of the audit
// continues. Cancellation is checked before each phase starts; phases
// already running finish.
func (e *Engine) Run(ctx context.Context, entry *library.Entry, opts Options) (*models.AuditResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateSemanticFindings(opts.SemanticFindings); err != nil {
		return nil, err
	}

	selected := e.Select(entry, opts)
	slots := make([][]models.Finding, len(selected))

	workers := opts.Workers
	if workers <= 0 {
		workers = e.workers
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, p := range selected {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			slots[i] = evaluate(p, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("audit %s: %w", entry.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("audit %s: %w", entry.Name, err)
	}

	var merged []models.Finding
	for _, fs := range slots {
		merged = append(merged, fs...)
	}
	for _, sf := range opts.SemanticFindings {
		merged = append(merged, sf.Finding())
	}

	result := models.NewAuditResult(entry.Name, dedupe(merged))
	if e.observer != nil {
		e.observer(result, time.Since(start))
	}
	return result, nil
}

// evaluate runs one phase on its own copy of the entry and converts any
// failure into a single critical finding.
func evaluate(p phases.Phase, entry *library.Entry) (findings []models.Finding) {
	defer func() {
		if r := recover(); r != nil {
			findings = []models.Finding{faultFinding(p, fmt.Errorf("panic: %v", r))}
		}
	}()
	fs, err := p.Evaluate(entry.Clone())
	if err != nil {
		return []models.Finding{faultFinding(p, err)}
	}
	return fs
}

func faultFinding(p phases.Phase, err error) models.Finding {
	fault := &PhaseFaultError{Phase: p.Number(), Name: p.Name(), Err: err}
	return models.NewFinding(p.Number(), p.Name(), models.SeverityCritical, models.StatusFail,
		fault.Error(), "", models.TierHumanRequired)
}

// dedupe drops exact repeats of phase, message and location, keeping the
// first occurrence.
func dedupe(findings []models.Finding) []models.Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]models.Finding, 0, len(findings))
	for _, f := range findings {
		key := fmt.Sprintf("%d\x00%s\x00%s", f.PhaseNumber, f.Message, f.Location)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
