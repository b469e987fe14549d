package orchestrator

import (
	"fmt"

	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// applyPlan remediates what the plan allows and saves the entry once.
// Hybrid resolutions go first because their locations are lines of the
// audited content; assisted rewrites address metadata keys and sections;
// deterministic remedies work on the whole entry.
func (r *run) applyPlan() error {
	e := r.entry
	changed := false
	r.prior = nil

	apply := func(f models.Finding, updated *library.Entry, err error) {
		if err == nil {
			updated, err = library.Reparse(updated)
		}
		if err != nil {
			r.skip(f, err.Error())
			return
		}
		e = updated
		changed = true
		r.applied = append(r.applied, f)
		r.o.events.Emit(Event{Type: EventFixApplied, RunID: r.opts.RunID, EntryName: r.iter.EntryName,
			Iteration: r.iter.Iteration, FindingID: f.ID, Message: f.Message})
	}

	for _, f := range r.plan.Hybrid {
		res, ok := r.resolution(f.ID)
		if !ok {
			r.skip(f, "no resolution supplied")
			continue
		}
		p, ok := r.o.engine.Phase(f.PhaseNumber)
		if !ok {
			r.skip(f, fmt.Sprintf("phase %d is not in the engine", f.PhaseNumber))
			continue
		}
		updated, err := p.Resolve(e, f, res.Text)
		apply(f, updated, err)
	}

	for _, f := range r.plan.Assisted {
		rw, ok := r.rewrite(f.ID)
		if !ok {
			r.skip(f, "no rewrite supplied")
			continue
		}
		target := rw.Target
		if target == "" {
			target = f.Location
		}
		updated, err := ApplyRewrite(e, target, rw.Text)
		apply(f, updated, err)
	}

	for _, f := range r.plan.Deterministic {
		p, ok := r.o.engine.Phase(f.PhaseNumber)
		if !ok {
			r.skip(f, fmt.Sprintf("phase %d is not in the engine", f.PhaseNumber))
			continue
		}
		updated, err := p.Fix(e, f)
		apply(f, updated, err)
	}

	if !changed {
		return nil
	}
	if err := r.o.store.Resolve(e); err != nil {
		return fmt.Errorf("resolve references for %s: %w", r.iter.EntryName, err)
	}
	if err := r.o.store.Save(e); err != nil {
		return fmt.Errorf("save %s: %w", r.iter.EntryName, err)
	}
	r.prior = r.entry
	r.entry = e
	return nil
}

func (r *run) skip(f models.Finding, reason string) {
	r.skipped = append(r.skipped, SkippedFix{Finding: f, Reason: reason})
	logf(r.iter.EntryName, "skip", "%s: %s", f.ID, reason)
	r.o.events.Emit(Event{Type: EventFixSkipped, RunID: r.opts.RunID, EntryName: r.iter.EntryName,
		Iteration: r.iter.Iteration, FindingID: f.ID, Message: reason})
}

func (r *run) resolution(id string) (Resolution, bool) {
	for _, res := range r.opts.Resolutions {
		if res.FindingID == id && (res.Entry == "" || res.Entry == r.iter.EntryName) {
			return res, true
		}
	}
	return Resolution{}, false
}

func (r *run) rewrite(id string) (Rewrite, bool) {
	for _, rw := range r.review.Rewrites {
		if rw.FindingID == id {
			return rw, true
		}
	}
	return Rewrite{}, false
}
