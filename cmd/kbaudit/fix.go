package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/kbaudit/internal/api"
	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
	"github.com/ShayCichocki/kbaudit/internal/report"
	"github.com/ShayCichocki/kbaudit/internal/state"
)

var (
	fixAll         bool
	fixDryRun      bool
	fixResolutions string
	fixReviewFile  string
	fixResume      bool
	fixParallel    int
	fixTimeout     time.Duration
	fixScope       string
	fixPhases      []int
)

var fixCmd = &cobra.Command{
	Use:   "fix [entry...]",
	Short: "Run the fix loop on entries",
	Long: `Audit each entry, apply the fixes its tier allows, and re-audit until the
entry is compliant, the loop stops converging, or the iteration bound is
reached.

Deterministic findings are fixed by the phase remedy. Assisted findings
need a rewrite from the reviewer (reviewer.provider, or --review-file).
Hybrid findings need a resolution from --resolutions, a JSON array of
{findingId, chosenResolutionText, entry?}. Human-required work is never
applied and ends the run as escalated.

A fix that increases the number of open critical and warning findings is
rolled back and the run ends in error.

--resume continues an interrupted run from its recorded iteration.`,
	RunE: runFix,
}

func init() {
	fixCmd.Flags().BoolVar(&fixAll, "all", false, "Fix every entry")
	fixCmd.Flags().BoolVar(&fixDryRun, "dry-run", false, "Run the loop without writing entries (default fix.dry_run)")
	fixCmd.Flags().StringVar(&fixResolutions, "resolutions", "", "JSON file of hybrid resolutions")
	fixCmd.Flags().StringVar(&fixReviewFile, "review-file", "", "JSON review file to use instead of reviewer.provider")
	fixCmd.Flags().BoolVar(&fixResume, "resume", false, "Resume interrupted runs from the state store")
	fixCmd.Flags().IntVar(&fixParallel, "parallel", 0, "Entries fixed at once (default fix.parallel)")
	fixCmd.Flags().DurationVar(&fixTimeout, "timeout", 0, "Wall-clock limit per run (default fix.timeout)")
	fixCmd.Flags().StringVar(&fixScope, "scope", "", "Audit scope: minimum or full (default audit.scope)")
	fixCmd.Flags().IntSliceVar(&fixPhases, "phases", nil, "Extra phases to run by number")
}

func runFix(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.flushMetrics()
	defer a.startLogging()()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	names, err := entryNames(ctx, a.lib, args, fixAll, "")
	if err != nil {
		return err
	}
	auditOpts, err := auditOptions(a, fixScope, fixPhases)
	if err != nil {
		return err
	}
	resolutions, err := loadResolutions(fixResolutions)
	if err != nil {
		return err
	}
	reviewer, err := createReviewer(a.cfg, fixReviewFile)
	if err != nil {
		return err
	}

	opts := orchestrator.Options{
		Audit:       auditOpts,
		Resolutions: resolutions,
		Timeout:     a.cfg.Fix.Timeout,
	}
	if cmd.Flags().Changed("timeout") {
		opts.Timeout = fixTimeout
	}
	dryRun := a.cfg.Fix.DryRun || fixDryRun
	parallel := a.cfg.Fix.Parallel
	if fixParallel > 0 {
		parallel = fixParallel
	}

	var store orchestrator.Store = a.lib
	var dry *orchestrator.DryRunStore
	if dryRun {
		dry = orchestrator.NewDryRunStore(a.lib)
		store = dry
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithReviewer(reviewer),
		orchestrator.WithLock(orchestrator.NewEntryLock(a.lockDir())),
		orchestrator.WithOutcomeObserver(a.metrics.ObserveOutcome),
	}
	var db state.Store
	if !dryRun {
		db, err = a.openState()
		if err != nil {
			return err
		}
		defer db.Close()
		orchOpts = append(orchOpts, orchestrator.WithRecorder(db))
	}

	var events *orchestrator.EventStream
	var printer sync.WaitGroup
	if flagVerbose {
		events = orchestrator.NewEventStream(100)
		orchOpts = append(orchOpts, orchestrator.WithEvents(events))
		printer.Add(1)
		go func() {
			defer printer.Done()
			printEvents(cmd.ErrOrStderr(), events.Events())
		}()
	}

	orch := orchestrator.New(store, a.engine(), orchOpts...)
	var outcomes []*orchestrator.Outcome
	if fixResume && db != nil {
		outcomes = resumeRuns(ctx, orch, db, names, opts)
	} else {
		outcomes = orch.RunMany(ctx, names, opts, parallel)
	}
	if events != nil {
		events.Close()
		printer.Wait()
	}

	w := cmd.OutOrStdout()
	for i, out := range outcomes {
		if i > 0 {
			fmt.Fprintln(w)
		}
		printOutcome(w, out)
	}
	if dry != nil {
		printDryRun(w, dry.Changed())
	}
	if mr, ok := reviewer.(*api.ModelReviewer); ok && flagVerbose {
		if u := mr.Usage(); u != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "reviewer: %s\n", u)
		}
	}
	return fixResult(outcomes)
}

// resumeRuns runs entries one at a time, continuing any interrupted run
// recorded for them.
func resumeRuns(ctx context.Context, orch *orchestrator.Orchestrator, db state.History, names []string, opts orchestrator.Options) []*orchestrator.Outcome {
	var outcomes []*orchestrator.Outcome
	for _, name := range names {
		runOpts := opts
		last, err := db.LatestRun(name)
		if err == nil && last != nil && last.Interrupted() {
			runOpts.RunID = last.ID
			runOpts.ResumeIteration = last.ResumeIteration()
		}
		out, err := orch.Run(ctx, name, runOpts)
		if out == nil {
			out = &orchestrator.Outcome{EntryName: name, State: orchestrator.StateError, Err: err}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func printEvents(w io.Writer, events <-chan orchestrator.Event) {
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventTransition:
			fmt.Fprintf(w, "[%s] %s (iteration %d)\n", ev.EntryName, ev.State, ev.Iteration)
		case orchestrator.EventFixApplied:
			fmt.Fprintf(w, "[%s]   fixed %s\n", ev.EntryName, ev.FindingID)
		case orchestrator.EventFixSkipped:
			fmt.Fprintf(w, "[%s]   skipped %s: %s\n", ev.EntryName, ev.FindingID, ev.Message)
		}
	}
}

func printOutcome(w io.Writer, out *orchestrator.Outcome) {
	header := fmt.Sprintf("%s: %s after %s", out.EntryName, out.State, plural(out.Iterations, "iteration"))
	switch out.State {
	case orchestrator.StateComplete:
		printStatus(w, "✓", header, color.FgGreen)
	case orchestrator.StateEscalated:
		printStatus(w, "⚠", header, color.FgYellow)
	default:
		printStatus(w, "✗", header, color.FgRed)
	}
	if out.Err != nil {
		fmt.Fprintf(w, "  %v\n", out.Err)
	}
	if out.RolledBack {
		fmt.Fprintln(w, "  the regressing fix was rolled back")
	}
	if out.State == orchestrator.StateEscalated {
		fmt.Fprintln(w)
		fmt.Fprint(w, orchestrator.NewEscalationReport(out).String())
		return
	}
	if out.Final != nil {
		fmt.Fprintln(w)
		fmt.Fprint(w, report.FormatResult(out.Final))
	}
}

func printDryRun(w io.Writer, changed []*library.Entry) {
	fmt.Fprintln(w)
	if len(changed) == 0 {
		fmt.Fprintln(w, "dry run: no entries would change")
		return
	}
	fmt.Fprintln(w, "dry run: entries that would be written:")
	for _, e := range changed {
		fmt.Fprintf(w, "  %s (%s)\n", e.Name, e.Path)
	}
}

// fixResult maps outcomes to the command error: any failed run is an error,
// and open findings or escalation exit with errFindings.
func fixResult(outcomes []*orchestrator.Outcome) error {
	var errs []error
	open := false
	for _, out := range outcomes {
		switch out.State {
		case orchestrator.StateError, orchestrator.StateCancelled:
			errs = append(errs, fmt.Errorf("%s: %s", out.EntryName, out.State))
		case orchestrator.StateEscalated:
			open = true
		}
		if out.Final != nil && out.Final.OpenCount() > 0 {
			open = true
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if open {
		return errFindings
	}
	return nil
}
