// Package transport is the migration engine's abstraction over how a
// source node talks to a target node during a migration: in-process
// (tests, co-located nodes) or HTTP JSON-RPC (production).
package transport

import (
	"context"

	"github.com/flock-run/flock/pkg/migration/snapshot"
)

// NotifyRequestParams is what a source sends a target to open a migration.
// The JSON tags are the wire shape of migration/request.
type NotifyRequestParams struct {
	MigrationID string `json:"migrationId"`
	AgentID     string `json:"agentId"`
	SourceNode  string `json:"sourceNode"`
	TargetNode  string `json:"targetNode"`
	Reason      string `json:"reason"`
}

// NotifyRequestResult is the target's verdict on a migration request.
type NotifyRequestResult struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// TransferAndVerifyParams carries the portable archive to the target.
type TransferAndVerifyParams struct {
	MigrationID string
	Archive     []byte
	Checksum    string
}

// RehydrateParams carries the payload and target-side paths for rehydrate.
type RehydrateParams struct {
	MigrationID    string
	AgentID        string
	Payload        snapshot.MigrationPayload
	TargetHomePath string
	TargetWorkDir  string
}

// Transport is the three remote operations the orchestrator drives against
// a target node. Every conforming implementation must be safe for
// concurrent use by multiple in-flight migrations.
type Transport interface {
	NotifyRequest(ctx context.Context, params NotifyRequestParams) (NotifyRequestResult, error)
	TransferAndVerify(ctx context.Context, params TransferAndVerifyParams) (snapshot.VerifyResult, error)
	Rehydrate(ctx context.Context, params RehydrateParams) (snapshot.RehydrateResult, error)
}
