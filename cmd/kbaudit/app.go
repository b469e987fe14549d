package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ShayCichocki/kbaudit/internal/audit"
	"github.com/ShayCichocki/kbaudit/internal/config"
	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/internal/metrics"
	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
	"github.com/ShayCichocki/kbaudit/internal/state"
)

// app is the wiring shared by commands.
type app struct {
	cfg     *config.Config
	lib     *library.Library
	metrics *metrics.Metrics
}

// loadApp loads configuration, applies the global flag overrides and opens
// the library.
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(cfg), nil
}

func newApp(cfg *config.Config) *app {
	if flagPrimary != "" {
		cfg.Library.Primary = flagPrimary
	}
	if flagExtended != "" {
		cfg.Library.Extended = flagExtended
	}
	if flagStateDir != "" {
		// an explicit flag is relative to where the command runs
		if abs, err := filepath.Abs(flagStateDir); err == nil {
			cfg.State.Dir = abs
		} else {
			cfg.State.Dir = flagStateDir
		}
	}
	cfg.AnchorStateDir()
	layout := library.DefaultLayout()
	if len(cfg.Library.Patterns) > 0 {
		layout.Patterns = cfg.Library.Patterns
	}
	return &app{
		cfg:     cfg,
		lib:     library.Open(cfg.Library.Primary, cfg.Library.Extended, layout),
		metrics: metrics.New(),
	}
}

func (a *app) engine() *audit.Engine {
	return audit.NewEngine(
		audit.WithWorkers(a.cfg.Audit.Workers),
		audit.WithObserver(a.metrics.ObserveAudit),
	)
}

// flushMetrics writes the textfile when one is configured. Failure to write
// metrics never fails a command.
func (a *app) flushMetrics() {
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// dbPath is the progress store inside the state directory, or the
// user-wide store when no state directory is configured.
func (a *app) dbPath() string {
	if a.cfg.State.Dir == "" {
		return state.GlobalDBPath()
	}
	return state.DirDBPath(a.cfg.State.Dir)
}

// openState opens the progress store.
func (a *app) openState() (state.Store, error) {
	db, err := state.OpenMigrated(a.dbPath())
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return db, nil
}

// startLogging points the fix trace at <state dir>/logs. A log that cannot
// be opened disables tracing rather than failing the command.
func (a *app) startLogging() func() {
	fixLog, err := orchestrator.OpenFixLog(a.cfg.State.Dir)
	if err != nil {
		return func() {}
	}
	orchestrator.SetFixLog(fixLog)
	return func() {
		orchestrator.SetFixLog(nil)
		fixLog.Close()
	}
}

func (a *app) lockDir() string {
	if a.cfg.State.Dir == "" {
		return ""
	}
	return filepath.Join(a.cfg.State.Dir, "locks")
}

// entryNames returns the entries a command acts on: the arguments, or every
// entry when all is set.
func entryNames(ctx context.Context, lib *library.Library, args []string, all bool, loc library.Location) ([]string, error) {
	if all && len(args) > 0 {
		return nil, errors.New("give entry names or --all, not both")
	}
	if !all {
		if len(args) == 0 {
			return nil, errors.New("no entries given (use --all for every entry)")
		}
		return args, nil
	}
	var names []string
	for sum, err := range lib.List(ctx, library.Filter{Location: loc}) {
		if err != nil {
			return nil, err
		}
		names = append(names, sum.Name)
	}
	return names, nil
}
