package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/kbaudit/internal/audit"
	"github.com/ShayCichocki/kbaudit/internal/report"
	"github.com/ShayCichocki/kbaudit/internal/watch"
)

var (
	watchDebounce time.Duration
	watchScope    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-audit entries as they change",
	Long: `Watch both locations and print a fresh report for each entry whose
document changes. Changes are debounced so an editor save that touches a
file several times yields one report.

Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before re-auditing")
	watchCmd.Flags().StringVar(&watchScope, "scope", "", "Audit scope: minimum or full (default audit.scope)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	opts, err := auditOptions(a, watchScope, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	w, err := watch.New(a.lib, watch.Config{Debounce: watchDebounce, Logger: logger})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s and %s\n", a.cfg.Library.Primary, a.cfg.Library.Extended)
	engine := a.engine()
	err = w.Run(ctx, func(ctx context.Context, c watch.Change) {
		reaudit(ctx, out, a, engine, c, opts)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reaudit prints the report for one changed entry.
func reaudit(ctx context.Context, w io.Writer, a *app, engine *audit.Engine, c watch.Change, opts audit.Options) {
	defer a.flushMetrics()
	fmt.Fprintf(w, "\n--- %s (%s) %s\n", c.Name, c.Location, time.Now().Format("15:04:05"))
	if c.Removed {
		fmt.Fprintln(w, "removed")
		return
	}
	entry, err := a.lib.Load(c.Name)
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	result, err := engine.Run(ctx, entry, opts)
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	fmt.Fprint(w, report.FormatResult(result))
}
