package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/kbaudit/internal/audit"
	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/internal/phases"
	"github.com/ShayCichocki/kbaudit/internal/report"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

var (
	auditScope    string
	auditPhases   []int
	auditSemantic string
	auditJSON     bool
	auditAll      bool
	auditLocation string
)

var auditCmd = &cobra.Command{
	Use:   "audit [entry...]",
	Short: "Audit entries against the phase catalog",
	Long: `Audit one or more entries and print a deterministic findings report.

The scope selects minimum (critical and high phases) or full. --phases
adds individual phases by number on top of the scope.

Semantic findings from an external reviewer can be merged with --semantic,
which takes a JSON array of {severity, criterion, message, location?}. A
malformed array fails the audit before any phase runs.

Exit status is 0 when no critical or warning finding is open, 1 when some
are, and 2 on error.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditScope, "scope", "", "Audit scope: minimum or full (default audit.scope)")
	auditCmd.Flags().IntSliceVar(&auditPhases, "phases", nil, "Extra phases to run by number")
	auditCmd.Flags().StringVar(&auditSemantic, "semantic", "", "JSON file of semantic findings to merge (single entry only)")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Print machine-readable records instead of the table")
	auditCmd.Flags().BoolVar(&auditAll, "all", false, "Audit every entry")
	auditCmd.Flags().StringVar(&auditLocation, "location", "", "With --all, restrict to primary or extended")
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.flushMetrics()

	opts, err := auditOptions(a, auditScope, auditPhases)
	if err != nil {
		return err
	}
	loc := library.Location(auditLocation)
	if loc != "" && !loc.Valid() {
		return fmt.Errorf("unknown location: %s", auditLocation)
	}

	ctx := cmd.Context()
	names, err := entryNames(ctx, a.lib, args, auditAll, loc)
	if err != nil {
		return err
	}
	if auditSemantic != "" {
		if len(names) != 1 {
			return errors.New("--semantic needs exactly one entry")
		}
		if opts.SemanticFindings, err = loadSemantic(auditSemantic); err != nil {
			return err
		}
	}

	return auditEntries(ctx, cmd.OutOrStdout(), a, names, opts, auditJSON)
}

// auditOptions merges flag values over the configured defaults.
func auditOptions(a *app, scope string, extra []int) (audit.Options, error) {
	if scope == "" {
		scope = a.cfg.Audit.Scope
	}
	s, err := phases.ParseScope(scope)
	if err != nil {
		return audit.Options{}, err
	}
	for _, n := range extra {
		if _, ok := phases.ByNumber(n); !ok {
			return audit.Options{}, fmt.Errorf("unknown phase: %d", n)
		}
	}
	return audit.Options{Scope: s, Phases: extra, Workers: a.cfg.Audit.Workers}, nil
}

func loadSemantic(path string) ([]audit.SemanticFinding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read semantic findings: %w", err)
	}
	findings, err := audit.DecodeSemanticFindings(data)
	if err != nil {
		return nil, fmt.Errorf("semantic findings %s: %w", path, err)
	}
	return findings, nil
}

// auditEntries audits each entry in turn. An entry that cannot be loaded is
// reported and the rest still run.
func auditEntries(ctx context.Context, w io.Writer, a *app, names []string, opts audit.Options, asJSON bool) error {
	engine := a.engine()
	var failed []error
	var results []*models.AuditResult
	for _, name := range names {
		entry, err := a.lib.Load(name)
		if err != nil {
			failed = append(failed, err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		result, err := engine.Run(ctx, entry, opts)
		if err != nil {
			return err
		}
		results = append(results, result)

		if asJSON {
			data, err := report.JSON(result)
			if err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			continue
		}
		if len(results) > 1 {
			fmt.Fprintln(w)
		}
		if _, err := fmt.Fprint(w, report.FormatResult(result)); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	open := openEntries(results)
	if !asJSON && len(names) > 1 {
		fmt.Fprintln(w)
		printSummary(w, len(results), open)
	}
	switch {
	case len(failed) > 0:
		return fmt.Errorf("%d of %d entries could not be audited", len(failed), len(names))
	case open > 0:
		return errFindings
	}
	return nil
}

// openEntries counts results with open critical or warning findings.
func openEntries(results []*models.AuditResult) int {
	n := 0
	for _, r := range results {
		if r.OpenCount() > 0 {
			n++
		}
	}
	return n
}

func printSummary(w io.Writer, total, open int) {
	if open == 0 {
		printStatus(w, "✓", fmt.Sprintf("%d entries audited, all compliant", total), color.FgGreen)
		return
	}
	printStatus(w, "✗", fmt.Sprintf("%d entries audited, %d with open findings", total, open), color.FgRed)
}
