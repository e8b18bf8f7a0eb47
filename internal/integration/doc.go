// Package integration provides cross-package integration tests for Ensemble.
// These tests wire the orchestrator, planner, state recorder, and decision
// journal together the way the CLI does and verify the pieces agree.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
