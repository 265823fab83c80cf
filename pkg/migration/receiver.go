package migration

import (
	"context"
	"os"
	"path/filepath"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/handshake"
	"github.com/flock-run/flock/pkg/migration/snapshot"
)

// Receiver is the target-side handler for the `migration/*` RPCs a source
// node's transport issues: it is the other end of `transport.Transport`,
// not an implementation of it — a source calls through Transport, a
// target answers through Receiver. The HTTP JSON-RPC boundary
// (pkg/server) decodes wire requests and calls these methods.
type Receiver struct {
	Tickets       *TicketStore
	TmpDir        string
	KnownPeers    map[string]bool           // nil means "accept any source"
	CapacityCheck func(agentID string) bool // nil means "always accept"
}

func NewReceiver(tickets *TicketStore, tmpDir string) *Receiver {
	return &Receiver{Tickets: tickets, TmpDir: tmpDir}
}

// NotifyRequestResult and friends are declared in transport to avoid an
// import cycle (pkg/migration/transport already depends on pkg/migration's
// sibling pkg/migration/snapshot, not on pkg/migration itself); Receiver
// re-declares the same shapes as plain return values so pkg/server can
// import both without either package depending on the other.

// HandleRequest implements `migration/request`: known-peer and capacity
// checks, rejecting a duplicate-agent migration with a typed error.
func (r *Receiver) HandleRequest(ctx context.Context, migrationID, agentID, sourceNode string) (accepted bool, reason string, err error) {
	if r.KnownPeers != nil && !r.KnownPeers[sourceNode] {
		return false, "UNKNOWN_SOURCE", flockerr.New(flockerr.CapacityReject, "unknown_source", "source node "+sourceNode+" is not a known peer")
	}
	if existing, exists := r.Tickets.GetByAgent(agentID); exists {
		return false, "duplicate agent migration already active on this node", flockerr.New(flockerr.DuplicateMigration, "duplicate_migration",
			"agent "+agentID+" already has an active migration ticket "+existing.MigrationID)
	}
	if r.CapacityCheck != nil && !r.CapacityCheck(agentID) {
		return false, "capacity rejected", flockerr.New(flockerr.CapacityReject, "capacity_reject", "target node rejected agent "+agentID+" on capacity grounds")
	}
	return true, "", nil
}

// StagingPath is where an inbound archive for migrationID is staged:
// <tmpDir>/<migrationId>/<migrationId>.tar.gz.
func (r *Receiver) StagingPath(migrationID string) string {
	return filepath.Join(r.TmpDir, migrationID, migrationID+".tar.gz")
}

// HandleTransfer implements `migration/transfer`: stages the archive bytes
// without verifying them, returning the staged size.
func (r *Receiver) HandleTransfer(ctx context.Context, migrationID string, archive []byte) (int64, error) {
	path := r.StagingPath(migrationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, flockerr.Wrap(flockerr.LocalIO, "receiver_mkdir_tmp", "failed to prepare staging directory", err)
	}
	if err := os.WriteFile(path, archive, 0o600); err != nil {
		return 0, flockerr.Wrap(flockerr.LocalIO, "receiver_stage_archive", "failed to stage archive", err)
	}
	return int64(len(archive)), nil
}

// HandleVerify implements `migration/verify`: re-verifies a previously
// staged archive against the expected checksum.
func (r *Receiver) HandleVerify(ctx context.Context, migrationID, checksum string) (snapshot.VerifyResult, error) {
	path := r.StagingPath(migrationID)
	if _, err := os.Stat(path); err != nil {
		return snapshot.VerifyResult{}, flockerr.Wrap(flockerr.NotFound, "staged_archive_not_found",
			"no staged archive for migration "+migrationID, err)
	}
	return snapshot.VerifySnapshot(path, checksum), nil
}

// HandleTransferAndVerify implements `migration/transfer-and-verify`: stages
// the archive bytes under TmpDir and re-verifies checksum and structure in
// one call.
func (r *Receiver) HandleTransferAndVerify(ctx context.Context, migrationID string, archive []byte, checksum string) (snapshot.VerifyResult, string, error) {
	if _, err := r.HandleTransfer(ctx, migrationID, archive); err != nil {
		return snapshot.VerifyResult{}, "", err
	}
	path := r.StagingPath(migrationID)
	return snapshot.VerifySnapshot(path, checksum), path, nil
}

// HandleRehydrate implements `migration/rehydrate`: the archive must already
// be staged at payload.ArchivePath (the caller, pkg/server, stages it from
// the same wire payload that ships the checksum). The staging directory is
// purged once rehydrate finishes, whatever the outcome.
func (r *Receiver) HandleRehydrate(ctx context.Context, migrationID string, payload snapshot.MigrationPayload, targetHomePath, targetWorkPath string) snapshot.RehydrateResult {
	defer r.purge(migrationID)

	result := snapshot.Rehydrate(payload, targetHomePath, targetWorkPath)
	if result.Success && len(result.Warnings) > 0 {
		content := "Rehydrate completed with warnings:\n"
		for _, w := range result.Warnings {
			content += "- " + w + "\n"
		}
		if err := handshake.Write(targetHomePath, content); err != nil {
			result.Warnings = append(result.Warnings, "failed to write handshake file: "+err.Error())
		}
	}
	return result
}

// purge removes migrationID's staging directory. Best-effort: a leftover
// staging directory is disk waste, not a correctness problem.
func (r *Receiver) purge(migrationID string) {
	if r.TmpDir == "" || migrationID == "" {
		return
	}
	_ = os.RemoveAll(filepath.Join(r.TmpDir, migrationID))
}
