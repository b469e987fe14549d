package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/kbaudit/internal/audit"
	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// ErrCancelled is recorded on runs cancelled through Control.
var ErrCancelled = errors.New("fix run cancelled by caller")

// Options controls one fix run.
type Options struct {
	// Audit carries scope, explicit phases and workers. Semantic findings
	// come from the reviewer and any set here are ignored.
	Audit audit.Options
	// Resolutions are caller choices for hybrid findings.
	Resolutions []Resolution
	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration
	// ResumeIteration continues the iteration count of an interrupted run.
	ResumeIteration int
	// RunID names the run. Empty generates one.
	RunID string
	// Control lets the caller skip or cancel.
	Control *Control
}

// SkippedFix is a planned finding that could not be remediated this cycle.
type SkippedFix struct {
	Finding models.Finding `json:"finding"`
	Reason  string         `json:"reason"`
}

// Outcome describes a finished run. Every terminal state carries the final
// findings and the iteration count.
type Outcome struct {
	RunID      string                `json:"runId"`
	EntryName  string                `json:"entryName"`
	State      State                 `json:"state"`
	Iterations int                   `json:"iterationCount"`
	// Final is the audit of the content left on disk. After a rolled-back
	// regression that is the audit before the regressing fix; the regressed
	// findings are in the RegressionError delta and the last History item.
	Final      *models.AuditResult   `json:"final,omitempty"`
	History    []*models.AuditResult `json:"history"`
	// Remaining partitions the final non-passing findings.
	Remaining FixPlan          `json:"remaining"`
	Applied   []models.Finding `json:"applied"`
	Skipped   []SkippedFix     `json:"skipped"`
	// Err is the regression or failure for StateError, and the cause for
	// StateCancelled.
	Err error `json:"-"`
	// RolledBack is set when a regressing fix was reverted on disk.
	RolledBack bool `json:"rolledBack,omitempty"`
}

// Findings returns the final findings, or nil when no audit completed.
func (o *Outcome) Findings() []models.Finding {
	if o.Final == nil {
		return nil
	}
	return o.Final.Findings
}

// OutcomeObserver is told about every finished run.
type OutcomeObserver func(*Outcome)

// Orchestrator runs fix loops. It is safe for concurrent use; runs on the
// same entry are serialized by its EntryLock.
type Orchestrator struct {
	store    Store
	engine   *audit.Engine
	reviewer Reviewer
	recorder ProgressRecorder
	lock     *EntryLock
	events   *EventStream
	observer OutcomeObserver
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReviewer sets the semantic reviewer.
func WithReviewer(r Reviewer) Option { return func(o *Orchestrator) { o.reviewer = r } }

// WithRecorder sets the progress recorder.
func WithRecorder(r ProgressRecorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithLock sets the entry lock, for sharing one across orchestrators or
// enabling lock files.
func WithLock(l *EntryLock) Option { return func(o *Orchestrator) { o.lock = l } }

// WithEvents sets an event emitter.
func WithEvents(e *EventStream) Option { return func(o *Orchestrator) { o.events = e } }

// WithOutcomeObserver registers a completion callback.
func WithOutcomeObserver(f OutcomeObserver) Option { return func(o *Orchestrator) { o.observer = f } }

// New creates an orchestrator over store.
func New(store Store, engine *audit.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		engine:   engine,
		reviewer: NopReviewer{},
		recorder: NopRecorder{},
		lock:     NewEntryLock(""),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives one entry to a terminal state. The outcome is always returned
// once the lock is held; the error is non-nil only for StateError and for
// failures to start.
func (o *Orchestrator) Run(ctx context.Context, name string, opts Options) (*Outcome, error) {
	if opts.ResumeIteration < 0 || opts.ResumeIteration >= MaxIterations {
		return nil, fmt.Errorf("resume iteration %d is outside 0..%d", opts.ResumeIteration, MaxIterations-1)
	}
	release, err := o.lock.Acquire(name)
	if err != nil {
		return nil, err
	}
	defer release()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}

	r := &run{
		o:    o,
		opts: opts,
		iter: IterationState{EntryName: name, Iteration: opts.ResumeIteration},
	}
	out := r.execute(ctx)
	if o.observer != nil {
		o.observer(out)
	}
	if out.State == StateError {
		return out, out.Err
	}
	return out, nil
}

// RunMany runs several entries in parallel, at most workers at a time.
// Names are de-duplicated. Outcomes are returned in input order.
func (o *Orchestrator) RunMany(ctx context.Context, names []string, opts Options, workers int) []*Outcome {
	var uniq []string
	seen := make(map[string]bool)
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			uniq = append(uniq, n)
		}
	}
	if workers <= 0 {
		workers = 1
	}

	outcomes := make([]*Outcome, len(uniq))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, name := range uniq {
		g.Go(func() error {
			runOpts := opts
			runOpts.RunID = ""
			out, err := o.Run(ctx, name, runOpts)
			if out == nil {
				out = &Outcome{EntryName: name, State: StateError, Err: err}
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// run is the per-invocation state. It is never shared.
type run struct {
	o    *Orchestrator
	opts Options
	iter IterationState

	state   State
	entry   *library.Entry
	prior   *library.Entry
	current *models.AuditResult
	pending *models.AuditResult
	plan    FixPlan
	review  Review

	applied    []models.Finding
	skipped    []SkippedFix
	err        error
	rolledBack bool
}

func (r *run) execute(ctx context.Context) *Outcome {
	name := r.iter.EntryName
	r.enter(ctx, StateAuditing)

	entry, err := r.o.store.Load(name)
	if err != nil {
		r.err = err
		r.enter(ctx, StateError)
		return r.outcome()
	}
	r.entry = entry

	for !r.state.Terminal() {
		if next, stop := r.interrupted(ctx); stop {
			r.enter(ctx, next)
			break
		}
		var next State
		switch r.state {
		case StateAuditing:
			next = r.auditing(ctx)
		case StateDeciding:
			next = r.deciding()
		case StateFixing:
			next = r.fixing()
		case StateReauditing:
			next = r.reauditing(ctx)
		default:
			r.err = fmt.Errorf("unexpected state %q", r.state)
			next = StateError
		}
		r.enter(ctx, next)
	}
	return r.outcome()
}

// interrupted checks for caller requests and context expiry at a transition.
func (r *run) interrupted(ctx context.Context) (State, bool) {
	switch r.opts.Control.Pending() {
	case RequestCancel:
		r.err = ErrCancelled
		return StateCancelled, true
	case RequestSkip:
		logf(r.iter.EntryName, "control", "skipped by caller in %s", r.state)
		return StateComplete, true
	}
	if err := ctx.Err(); err != nil {
		r.err = err
		return StateCancelled, true
	}
	return "", false
}

func (r *run) auditing(ctx context.Context) State {
	res := r.pending
	r.pending = nil
	if res == nil {
		var err error
		if res, err = r.audit(ctx, r.iter.Iteration); err != nil {
			return r.failure(err)
		}
	}
	r.current = res
	r.iter.record(res)
	return StateDeciding
}

func (r *run) deciding() State {
	if r.current.OverallStatus == models.StatusPass {
		return StateComplete
	}
	r.plan = Partition(r.current.Findings)
	logf(r.iter.EntryName, "plan", "deterministic=%d assisted=%d hybrid=%d human=%d",
		len(r.plan.Deterministic), len(r.plan.Assisted), len(r.plan.Hybrid), len(r.plan.Human))
	return StateFixing
}

func (r *run) fixing() State {
	if err := r.applyPlan(); err != nil {
		r.err = err
		return StateError
	}
	return StateReauditing
}

func (r *run) reauditing(ctx context.Context) State {
	// The fix cycle has completed, so the reviewer sees the count it will
	// have once this audit is accepted.
	next, err := r.audit(ctx, r.iter.Iteration+1)
	if err != nil {
		return r.failure(err)
	}
	prev := r.current
	if next.OpenCount() > prev.OpenCount() {
		r.iter.record(next)
		r.err = &RegressionError{Entry: r.iter.EntryName, Iteration: r.iter.Iteration + 1, Delta: Diff(prev, next)}
		r.rollback()
		if !r.rolledBack {
			// the regressed content is still on disk
			r.current = next
		}
		return StateError
	}

	r.iter.Iteration++
	switch {
	case next.OverallStatus == models.StatusPass:
		r.current = next
		r.iter.record(next)
		return StateComplete
	case r.iter.Iteration >= MaxIterations:
		r.current = next
		r.iter.record(next)
		return StateEscalated
	default:
		r.pending = next
		return StateAuditing
	}
}

// audit asks the reviewer for semantic input and runs the engine.
// audit runs the reviewer and the engine; iteration is the number of
// completed fix cycles the reviewer is told about.
func (r *run) audit(ctx context.Context, iteration int) (*models.AuditResult, error) {
	review, err := r.o.reviewer.Review(ctx, r.entry, iteration)
	if err != nil {
		return nil, fmt.Errorf("semantic review of %s: %w", r.iter.EntryName, err)
	}
	r.review = review
	opts := r.opts.Audit
	opts.SemanticFindings = review.Findings
	return r.o.engine.Run(ctx, r.entry, opts)
}

func (r *run) failure(err error) State {
	r.err = err
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StateCancelled
	}
	return StateError
}

// rollback restores the content from before the regressing fix.
func (r *run) rollback() {
	if r.prior == nil {
		return
	}
	if err := r.o.store.Save(r.prior); err != nil {
		r.err = errors.Join(r.err, fmt.Errorf("restore %s: %w", r.iter.EntryName, err))
		return
	}
	r.entry = r.prior
	r.rolledBack = true
}

func (r *run) enter(ctx context.Context, s State) {
	r.state = s
	snap := Snapshot{
		RunID:     r.opts.RunID,
		EntryName: r.iter.EntryName,
		Iteration: r.iter.Iteration,
		State:     s,
		At:        time.Now().UTC(),
	}
	if r.current != nil {
		snap.OpenCount = r.current.OpenCount()
		snap.Status = r.current.OverallStatus
	}
	if err := r.o.recorder.Record(context.WithoutCancel(ctx), snap); err != nil {
		logf(r.iter.EntryName, "record", "%s: %v", s, err)
	}
	logf(r.iter.EntryName, "state", "-> %s (iteration %d)", s, r.iter.Iteration)
	r.o.events.Emit(Event{
		Type:      EventTransition,
		RunID:     r.opts.RunID,
		EntryName: r.iter.EntryName,
		State:     s,
		Iteration: r.iter.Iteration,
		Timestamp: snap.At,
	})
}

func (r *run) outcome() *Outcome {
	out := &Outcome{
		RunID:      r.opts.RunID,
		EntryName:  r.iter.EntryName,
		State:      r.state,
		Iterations: r.iter.Iteration,
		Final:      r.current,
		History:    r.iter.History,
		Applied:    r.applied,
		Skipped:    r.skipped,
		Err:        r.err,
		RolledBack: r.rolledBack,
	}
	if r.current != nil {
		out.Remaining = Partition(r.current.Findings)
	}
	msg := ""
	if r.err != nil {
		msg = r.err.Error()
	}
	r.o.events.Emit(Event{
		Type:      EventRunDone,
		RunID:     r.opts.RunID,
		EntryName: r.iter.EntryName,
		State:     r.state,
		Iteration: r.iter.Iteration,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
	return out
}
