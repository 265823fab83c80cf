// Package flock provides a distributed control plane for long-lived
// LLM-backed agent processes spread across one or more Flock nodes.
//
// Agents exchange typed messages over an HTTP/JSON-RPC peer protocol built
// on the A2A (Agent-to-Agent) standard, and individual agents can be
// live-migrated between nodes while preserving their on-disk state.
//
// # Quick Start
//
// Install the flock binary:
//
//	go install github.com/flock-run/flock/cmd/flock@latest
//
// Start a node:
//
//	flock serve --config flock.json
//
// # Using as a Go library
//
// Import specific packages:
//
//	import (
//	    "github.com/flock-run/flock/pkg/home"
//	    "github.com/flock-run/flock/pkg/migration"
//	    "github.com/flock-run/flock/pkg/store"
//	)
//
// # Architecture
//
//	Inbound message: HTTP POST -> A2A server -> per-agent executor ->
//	LLM session -> assistant text -> artifact -> JSON-RPC response ->
//	audit + task record written.
//
//	Migration:       orchestrator -> engine.Initiate -> phase advances
//	(local + target-side RPCs via transport) -> snapshot ->
//	transferAndVerify -> ownership flip -> rehydrate -> complete ->
//	completion hook (assignment store + node registry updated, source
//	home RETIRED).
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package flock
