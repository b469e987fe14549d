package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
	"github.com/ShayCichocki/kbaudit/internal/state"
)

var (
	statusLimit int
	statusEntry string
	statusPurge time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded fix runs",
	Long: `Display fix runs recorded in the state store, newest first.

Shows:
  - Run ID, entry and current state
  - Iteration count and open findings
  - Time since the run last moved

Runs that stopped before a terminal state are marked interrupted and can
be continued with 'kbaudit fix --resume'. With --entry, the snapshots of
that entry's latest run are listed.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Maximum runs to show (0 for all)")
	statusCmd.Flags().StringVar(&statusEntry, "entry", "", "Show the snapshots of one entry's latest run")
	statusCmd.Flags().DurationVar(&statusPurge, "purge", 0, "Delete runs not updated within this age")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	if _, err := os.Stat(a.dbPath()); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(w, "No fix runs recorded. Run 'kbaudit fix <entry>' to start.")
		return nil
	}
	db, err := a.openState()
	if err != nil {
		return err
	}
	defer db.Close()

	if statusPurge > 0 {
		n, err := db.PurgeOldRuns(statusPurge)
		if err != nil {
			return fmt.Errorf("purge runs: %w", err)
		}
		fmt.Fprintf(w, "Purged %s.\n\n", plural(int(n), "run"))
	}

	if statusEntry != "" {
		return displaySnapshots(w, db, statusEntry)
	}

	runs, err := db.ListRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No fix runs recorded. Run 'kbaudit fix <entry>' to start.")
		return nil
	}
	fmt.Fprint(w, renderRuns(runs, time.Now()))

	interrupted, err := db.InterruptedRuns()
	if err != nil {
		return fmt.Errorf("list interrupted runs: %w", err)
	}
	if len(interrupted) > 0 {
		fmt.Fprintf(w, "\n%s interrupted. Continue with 'kbaudit fix --resume <entry>'.\n", plural(len(interrupted), "run"))
	}
	return nil
}

func displaySnapshots(w io.Writer, db state.History, entry string) error {
	run, err := db.LatestRun(entry)
	if err != nil {
		return fmt.Errorf("latest run: %w", err)
	}
	if run == nil {
		fmt.Fprintf(w, "No fix runs recorded for %s.\n", entry)
		return nil
	}
	snaps, err := db.Snapshots(run.ID)
	if err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}
	fmt.Fprintf(w, "Run %s for %s, started %s ago\n\n", run.ID, run.EntryName, formatDuration(time.Since(run.StartedAt)))
	for _, s := range snaps {
		fmt.Fprintf(w, "  %s  %-10s iteration %d  open %d\n",
			s.At.Local().Format("15:04:05"), stateStyle(s.State).Render(string(s.State)), s.Iteration, s.OpenCount)
	}
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// stateStyle colours a run state.
func stateStyle(s orchestrator.State) lipgloss.Style {
	switch s {
	case orchestrator.StateComplete:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	case orchestrator.StateEscalated:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	case orchestrator.StateError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	case orchestrator.StateCancelled:
		return dimStyle
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	}
}

var runColumns = []struct {
	title string
	width int
}{
	{"RUN", 10},
	{"ENTRY", 28},
	{"STATE", 12},
	{"ITER", 5},
	{"OPEN", 5},
	{"UPDATED", 8},
}

// renderRuns lays the runs out as a fixed-width table.
func renderRuns(runs []state.Run, now time.Time) string {
	var sb strings.Builder
	cells := make([]string, len(runColumns))
	for i, c := range runColumns {
		cells[i] = headerStyle.Width(c.width).Render(c.title)
	}
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	sb.WriteByte('\n')

	for _, r := range runs {
		label := string(r.State)
		if r.Interrupted() {
			label += "*"
		}
		values := []string{
			shortID(r.ID),
			r.EntryName,
			label,
			strconv.Itoa(r.Iteration),
			strconv.Itoa(r.OpenCount),
			formatDuration(now.Sub(r.UpdatedAt)),
		}
		for i, c := range runColumns {
			style := lipgloss.NewStyle()
			if i == 2 {
				style = stateStyle(r.State)
			}
			cells[i] = style.Width(c.width).MaxWidth(c.width).Render(truncate(values[i], c.width-1))
		}
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if lipgloss.Width(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
