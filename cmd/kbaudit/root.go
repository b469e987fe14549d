package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitPass     = 0
	exitFindings = 1
	exitError    = 2
)

// errFindings is returned by commands that finished but left open
// findings or escalated work behind. It maps to exit code 1 and prints
// nothing, since the command already reported.
var errFindings = errors.New("open findings remain")

var (
	flagPrimary  string
	flagExtended string
	flagStateDir string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "kbaudit",
	Short: "Knowledge-base entry compliance auditor",
	Long: `kbaudit audits knowledge-base entries against a fixed catalog of
numbered phases and drives a bounded fix loop that applies deterministic
remedies, reviewer rewrites and caller-chosen resolutions.

Entries live in two locations: a small primary set and a larger extended
set. An entry name is unique across both.

Core capabilities:
- Deterministic audit reports that are byte-stable across runs
- Tiered fixes with a convergence check after every iteration
- Escalation of work that needs a human
- Run progress recorded for status and resume`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the command's code.
func Execute() {
	os.Exit(exitCode(rootCmd.Execute()))
}

// exitCode maps a command error to the process exit code, printing it
// unless it is errFindings.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitPass
	case errors.Is(err, errFindings):
		return exitFindings
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagPrimary, "primary", "", "Primary location directory (overrides library.primary)")
	rootCmd.PersistentFlags().StringVar(&flagExtended, "extended", "", "Extended location directory (overrides library.extended)")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "State directory (overrides state.dir)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print fix-loop progress")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}
