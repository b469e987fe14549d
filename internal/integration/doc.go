// Package integration provides cross-package integration tests for kbaudit.
// These tests drive the library, audit engine, fix orchestrator, state store
// and report formatter together from entries on disk.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
