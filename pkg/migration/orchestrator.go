package migration

import (
	"context"
	"os"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/migration/retry"
	"github.com/flock-run/flock/pkg/migration/snapshot"
	"github.com/flock-run/flock/pkg/migration/transport"
)

// RunParams is everything the orchestrator needs for one migration attempt,
// beyond the ticket identity already captured by Initiate.
type RunParams struct {
	AgentID        string
	Source         Endpoint
	Target         Endpoint
	Reason         Reason
	HomePath       string
	WorkPath       string
	TmpDir         string
	TargetHomePath string
	TargetWorkPath string
}

// RunResult is the orchestrator's final report.
type RunResult struct {
	Success     bool     `json:"success"`
	MigrationID string   `json:"migrationId"`
	FinalPhase  Phase    `json:"finalPhase"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Orchestrator drives a migration ticket end to end: initiate, advance
// through the local phases, snapshot, hand the archive to the target over
// Transport, flip ownership on verification, rehydrate remotely, and
// complete. Verification and rehydrate failures roll the ticket back to
// ABORTED, restoring the source home to LEASED. Every other failure
// (request rejection, phase transition, snapshot, transfer, completion)
// moves the ticket straight to FAILED via Engine.Fail, which does not
// restore the source home.
type Orchestrator struct {
	Engine *Engine
}

func NewOrchestrator(engine *Engine) *Orchestrator {
	return &Orchestrator{Engine: engine}
}

// Run executes the full migration driver against a given Transport bound to
// params.Target.NodeID.
func (o *Orchestrator) Run(ctx context.Context, t transport.Transport, params RunParams) RunResult {
	ticket, err := o.Engine.Initiate(ctx, params.AgentID, params.Source, params.Target, params.Reason)
	if err != nil {
		return RunResult{Success: false, Error: err.Error()}
	}
	migrationID := ticket.MigrationID

	notify, err := t.NotifyRequest(ctx, transport.NotifyRequestParams{
		MigrationID: migrationID,
		AgentID:     params.AgentID,
		SourceNode:  params.Source.NodeID,
		TargetNode:  params.Target.NodeID,
		Reason:      string(params.Reason),
	})
	if err != nil {
		return o.fail(ctx, migrationID, "notify_request failed: "+err.Error())
	}
	if !notify.Accepted {
		return o.fail(ctx, migrationID, "target rejected migration request: "+notify.Error)
	}

	// AUTHORIZED, FREEZING, FROZEN, SNAPSHOTTING — four canonical steps
	// before the archive is built.
	for i := 0; i < 4; i++ {
		if ticket, err = o.Engine.AdvancePhase(ctx, migrationID); err != nil {
			return o.fail(ctx, migrationID, err.Error())
		}
	}

	var portable *snapshot.Portable
	var sizeErr error
	err = retry.Do(ctx, retry.Local, func(ctx context.Context) error {
		var snapErr error
		portable, snapErr = snapshot.CreateSnapshot(params.HomePath, migrationID, params.TmpDir)
		if kind, ok := flockerr.KindOf(snapErr); ok && kind == flockerr.SizeExceeded {
			sizeErr = snapErr // abort: a retry cannot shrink the archive
			return nil
		}
		return snapErr
	})
	if sizeErr != nil {
		err = sizeErr
	}
	if err != nil {
		return o.failNonRetryable(ctx, migrationID, err)
	}

	if ticket, err = o.Engine.AdvancePhase(ctx, migrationID); err != nil { // -> TRANSFERRING
		return o.fail(ctx, migrationID, err.Error())
	}

	archive, err := readArchive(portable.ArchivePath)
	if err != nil {
		return o.fail(ctx, migrationID, "failed to read snapshot archive: "+err.Error())
	}

	var verify snapshot.VerifyResult
	err = retry.Do(ctx, retry.Network, func(ctx context.Context) error {
		var rpcErr error
		verify, rpcErr = t.TransferAndVerify(ctx, transport.TransferAndVerifyParams{
			MigrationID: migrationID,
			Archive:     archive,
			Checksum:    portable.Checksum,
		})
		return rpcErr
	})
	if err != nil {
		return o.fail(ctx, migrationID, "transfer-and-verify failed: "+err.Error())
	}

	if ticket, err = o.Engine.AdvancePhase(ctx, migrationID); err != nil { // -> VERIFYING
		return o.fail(ctx, migrationID, err.Error())
	}

	ticket, err = o.Engine.HandleVerification(ctx, migrationID, verify.Verified, string(verify.FailureReason))
	if err != nil {
		return o.fail(ctx, migrationID, err.Error())
	}
	if !verify.Verified {
		return o.rollbackAndReport(ctx, migrationID, "verification failed: "+string(verify.FailureReason))
	}

	rehydrate, err := t.Rehydrate(ctx, transport.RehydrateParams{
		MigrationID: migrationID,
		AgentID:     params.AgentID,
		Payload: snapshot.MigrationPayload{
			ArchivePath: portable.ArchivePath,
			Checksum:    portable.Checksum,
			SizeBytes:   portable.SizeBytes,
			WorkState:   portable.WorkState,
		},
		TargetHomePath: params.TargetHomePath,
		TargetWorkDir:  params.TargetWorkPath,
	})
	if err != nil || !rehydrate.Success {
		reason := "rehydrate failed"
		if err != nil {
			reason += ": " + err.Error()
		} else {
			reason += ": " + rehydrate.Error
		}
		return o.rollbackAndReport(ctx, migrationID, reason)
	}

	if ticket, err = o.Engine.AdvancePhase(ctx, migrationID); err != nil { // -> FINALIZING
		return o.fail(ctx, migrationID, err.Error())
	}

	ticket, err = o.Engine.Complete(ctx, migrationID, params.Target.HomeID, params.Target.Endpoint)
	if err != nil {
		return o.fail(ctx, migrationID, err.Error())
	}

	return RunResult{Success: true, MigrationID: migrationID, FinalPhase: ticket.Phase, Warnings: rehydrate.Warnings}
}

// failNonRetryable ends the migration as FAILED after snapshot creation
// failed: either a size-exceeded abort (returned on its first occurrence,
// never retried) or a local I/O failure that exhausted its retry budget.
func (o *Orchestrator) failNonRetryable(ctx context.Context, migrationID string, err error) RunResult {
	return o.fail(ctx, migrationID, err.Error())
}

func (o *Orchestrator) fail(ctx context.Context, migrationID, reason string) RunResult {
	ticket, ferr := o.Engine.Fail(ctx, migrationID, reason)
	phase := PhaseFailed
	if ferr == nil {
		phase = ticket.Phase
	}
	return RunResult{Success: false, MigrationID: migrationID, FinalPhase: phase, Error: reason}
}

func (o *Orchestrator) rollbackAndReport(ctx context.Context, migrationID, reason string) RunResult {
	ticket, err := o.Engine.Rollback(ctx, migrationID, reason)
	phase := PhaseAborted
	if err == nil {
		phase = ticket.Phase
	}
	return RunResult{Success: false, MigrationID: migrationID, FinalPhase: phase, Error: reason}
}

func readArchive(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, flockerr.Wrap(flockerr.LocalIO, "read_archive", "failed to read snapshot archive for transfer", err)
	}
	return data, nil
}
