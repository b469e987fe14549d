// Package orchestrator drives the bounded fix loop for knowledge-base
// entries.
//
// A run is an explicit state machine:
//
//	auditing -> deciding -> fixing -> reauditing -> (auditing | complete | escalated | error)
//
// plus a cancelled terminal state reachable from any non-terminal state.
// Deciding partitions the non-passing findings of the latest audit into a
// FixPlan keyed by automation tier. Fixing applies deterministic remedies,
// reviewer-supplied rewrites for assisted findings and caller-supplied
// resolutions for hybrid findings; human-required findings are never
// touched. Reauditing enforces that the number of open critical and warning
// findings never grows, and escalates after MaxIterations cycles.
//
// Example usage:
//
//	lib := library.Open(primary, extended, library.DefaultLayout())
//	orch := orchestrator.New(lib, audit.NewEngine())
//	outcome, err := orch.Run(ctx, "foo", orchestrator.Options{})
package orchestrator
