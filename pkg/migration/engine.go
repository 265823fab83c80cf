package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flock-run/flock/pkg/audit"
	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/home"
	"github.com/flock-run/flock/pkg/observability"
	"github.com/flock-run/flock/pkg/registry"
)

// phaseAuditAction maps a phase to the audit action recorded when the
// ticket enters it: one entry per phase entered.
var phaseAuditAction = map[Phase]string{
	PhaseRequested:    "migration.initiated",
	PhaseAuthorized:   "migration.authorized",
	PhaseFreezing:     "migration.freezing",
	PhaseFrozen:       "migration.frozen",
	PhaseSnapshotting: "migration.snapshotting",
	PhaseTransferring: "migration.transferring",
	PhaseVerifying:    "migration.verifying",
	PhaseRehydrating:  "migration.rehydrating",
	PhaseFinalizing:   "migration.finalizing",
	PhaseCompleted:    "migration.finalized",
	PhaseRollingBack:  "migration.rolling_back",
	PhaseAborted:      "migration.aborted",
	PhaseFailed:       "migration.failed",
}

// Engine drives migration tickets through the phase FSM, performing the
// home-state side effect and completion hook appropriate to each phase.
type Engine struct {
	Tickets     *TicketStore
	Homes       *home.Manager
	Nodes       *registry.NodeRegistry
	Assignments registry.AssignmentStore // nil in peer topology
	Audit       *audit.Log

	tracer  trace.Tracer
	metrics *observability.Metrics
}

func NewEngine(tickets *TicketStore, homes *home.Manager, nodes *registry.NodeRegistry, assignments registry.AssignmentStore, auditLog *audit.Log) *Engine {
	return &Engine{
		Tickets:     tickets,
		Homes:       homes,
		Nodes:       nodes,
		Assignments: assignments,
		Audit:       auditLog,
		tracer:      observability.Tracer("github.com/flock-run/flock/pkg/migration"),
	}
}

// WithObservability attaches the node-wide tracer and metrics registry,
// used to span every phase transition and track migrations in flight.
func (e *Engine) WithObservability(mgr *observability.Manager) *Engine {
	e.tracer = mgr.Tracer()
	e.metrics = mgr.Metrics()
	return e
}

// Initiate rejects if a non-terminal ticket already exists for agentID and
// otherwise creates a ticket in REQUESTED.
func (e *Engine) Initiate(ctx context.Context, agentID string, source, target Endpoint, reason Reason) (*Ticket, error) {
	t := &Ticket{
		MigrationID: uuid.NewString(),
		AgentID:     agentID,
		Source:      source,
		Target:      target,
		Reason:      reason,
	}
	if err := e.Tickets.Create(t); err != nil {
		return nil, err
	}
	e.metrics.IncMigrationsInFlight()
	e.appendAudit(ctx, t, PhaseRequested, "")
	return e.Tickets.Get(t.MigrationID)
}

// AdvancePhase moves a ticket to its canonical successor, performing the
// phase's home-state side effect and recording an audit entry.
func (e *Engine) AdvancePhase(ctx context.Context, migrationID string) (*Ticket, error) {
	ctx, span := e.tracer.Start(ctx, "migration.phase",
		trace.WithAttributes(attribute.String("migration_id", migrationID)))
	defer span.End()

	cur, err := e.Tickets.Get(migrationID)
	if err != nil {
		return nil, err
	}
	next, ok := NextPhase(cur.Phase)
	if !ok {
		return nil, flockerr.New(flockerr.InvalidTransition, "no_canonical_successor",
			"migration "+migrationID+" phase "+string(cur.Phase)+" has no canonical successor")
	}
	span.SetAttributes(attribute.String("from_phase", string(cur.Phase)), attribute.String("to_phase", string(next)))

	updated, err := e.Tickets.UpdatePhase(migrationID, next, nil)
	if err != nil {
		return nil, err
	}

	if err := e.applySideEffect(ctx, updated, next); err != nil {
		return nil, err
	}
	e.appendAudit(ctx, updated, next, "")
	return updated, nil
}

// applySideEffect performs the home transition associated with entering
// a given phase: FREEZING->FROZEN freezes the source home, TRANSFERRING
// marks it MIGRATING.
func (e *Engine) applySideEffect(ctx context.Context, t *Ticket, phase Phase) error {
	switch phase {
	case PhaseFrozen:
		_, err := e.Homes.Transition(ctx, t.Source.HomeID, flockstate.HomeFrozen,
			"migration freeze", "migration:"+t.MigrationID)
		return err
	case PhaseTransferring:
		_, err := e.Homes.Transition(ctx, t.Source.HomeID, flockstate.HomeMigrating,
			"migration transfer", "migration:"+t.MigrationID)
		return err
	default:
		return nil
	}
}

// HandleVerification advances REHYDRATING (flipping ownership atomically
// with the phase update) on success, or ROLLING_BACK on failure.
func (e *Engine) HandleVerification(ctx context.Context, migrationID string, verified bool, failureReason string) (*Ticket, error) {
	if verified {
		updated, err := e.Tickets.UpdatePhase(migrationID, PhaseRehydrating, func(t *Ticket) {
			t.OwnershipHolder = OwnershipTarget
		})
		if err != nil {
			return nil, err
		}
		e.appendAudit(ctx, updated, PhaseRehydrating, "")
		return updated, nil
	}

	updated, err := e.Tickets.UpdatePhase(migrationID, PhaseRollingBack, func(t *Ticket) {
		t.Error = failureReason
	})
	if err != nil {
		return nil, err
	}
	e.appendAudit(ctx, updated, PhaseRollingBack, failureReason)
	return updated, nil
}

// Complete moves a FINALIZING ticket to COMPLETED and runs the completion
// hook: registry reassignment, assignment-store reassignment (central
// topology only), and retiring the source home.
func (e *Engine) Complete(ctx context.Context, migrationID, newHomeID, newEndpoint string) (*Ticket, error) {
	updated, err := e.Tickets.UpdatePhase(migrationID, PhaseCompleted, nil)
	if err != nil {
		return nil, err
	}

	if err := e.runCompletionHook(ctx, updated); err != nil {
		return nil, fmt.Errorf("migration %s completion hook: %w", migrationID, err)
	}

	e.metrics.RecordMigrationOutcome("completed")
	e.appendAudit(ctx, updated, PhaseCompleted, "")
	return updated, nil
}

func (e *Engine) runCompletionHook(ctx context.Context, t *Ticket) error {
	if e.Nodes != nil {
		if src, ok := e.Nodes.Get(t.Source.NodeID); ok {
			_ = e.Nodes.UpdateAgents(t.Source.NodeID, removeAgent(src.AgentIDs, t.AgentID))
		}
		if tgt, ok := e.Nodes.Get(t.Target.NodeID); ok {
			_ = e.Nodes.UpdateAgents(t.Target.NodeID, addAgent(tgt.AgentIDs, t.AgentID))
		} else {
			_ = e.Nodes.Register(&flockstate.NodeEntry{
				NodeID:      t.Target.NodeID,
				A2AEndpoint: t.Target.Endpoint,
				Status:      flockstate.NodeOnline,
				LastSeen:    time.Now().UTC(),
				AgentIDs:    []string{t.AgentID},
			})
		}
	}

	if e.Assignments != nil {
		if err := e.Assignments.Reassign(t.AgentID, t.Target.NodeID); err != nil {
			if _, ok := flockerr.KindOf(err); ok {
				// No prior assignment to reassign (e.g. first placement) is
				// not an error for the completion hook's purposes.
			} else {
				return err
			}
		}
	}

	_, err := e.Homes.Transition(ctx, t.Source.HomeID, flockstate.HomeRetired,
		"migration complete", "migration:"+t.MigrationID)
	return err
}

// Rollback walks a ticket toward ABORTED, restoring the source home to
// LEASED if a freeze occurred during this migration attempt.
func (e *Engine) Rollback(ctx context.Context, migrationID, reason string) (*Ticket, error) {
	cur, err := e.Tickets.Get(migrationID)
	if err != nil {
		return nil, err
	}

	if cur.Phase != PhaseRollingBack {
		cur, err = e.Tickets.UpdatePhase(migrationID, PhaseRollingBack, func(t *Ticket) { t.Error = reason })
		if err != nil {
			return nil, err
		}
		e.appendAudit(ctx, cur, PhaseRollingBack, reason)
	}

	if _, frozeOccurred := cur.Timestamps[PhaseFrozen]; frozeOccurred {
		if _, err := e.Homes.Transition(ctx, cur.Source.HomeID, flockstate.HomeLeased,
			"migration rollback: "+reason, "migration:"+migrationID); err != nil {
			return nil, err
		}
	}

	updated, err := e.Tickets.UpdatePhase(migrationID, PhaseAborted, func(t *Ticket) { t.Error = reason })
	if err != nil {
		return nil, err
	}
	e.metrics.RecordMigrationOutcome("aborted")
	e.appendAudit(ctx, updated, PhaseAborted, reason)
	return updated, nil
}

// Fail transitions a ticket directly to FAILED (timeouts, unrecoverable
// local errors) without attempting the rollback home-restoration walk.
func (e *Engine) Fail(ctx context.Context, migrationID, reason string) (*Ticket, error) {
	updated, err := e.Tickets.UpdatePhase(migrationID, PhaseFailed, func(t *Ticket) { t.Error = reason })
	if err != nil {
		return nil, err
	}
	e.metrics.RecordMigrationOutcome("failed")
	e.appendAudit(ctx, updated, PhaseFailed, reason)
	return updated, nil
}

// ListActive returns all non-terminal tickets.
func (e *Engine) ListActive(ctx context.Context) []*Ticket {
	return e.Tickets.List(TicketFilter{OnlyActive: true})
}

// GetStatus returns the full ticket for migrationID.
func (e *Engine) GetStatus(ctx context.Context, migrationID string) (*Ticket, error) {
	return e.Tickets.Get(migrationID)
}

func (e *Engine) appendAudit(ctx context.Context, t *Ticket, phase Phase, detail string) {
	if e.Audit == nil {
		return
	}
	level := flockstate.AuditGreen
	if phase == PhaseFailed || phase == PhaseRollingBack || phase == PhaseAborted {
		level = flockstate.AuditYellow
	}
	d := map[string]any{"phase": string(phase), "migrationId": t.MigrationID, "targetNode": t.Target.NodeID}
	if detail != "" {
		d["detail"] = detail
	}
	_, _ = e.Audit.Append(ctx, audit.Entry{
		AgentID: t.AgentID,
		HomeID:  t.Source.HomeID,
		Action:  phaseAuditAction[phase],
		Level:   level,
		Detail:  d,
	})
}

func removeAgent(ids []string, agentID string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != agentID {
			out = append(out, id)
		}
	}
	return out
}

func addAgent(ids []string, agentID string) []string {
	for _, id := range ids {
		if id == agentID {
			return ids
		}
	}
	return append(append([]string(nil), ids...), agentID)
}

// FrozenGuard rejects messages to an agent with a ticket in a frozen
// phase. Each agent's executor checks it as the first step of Execute.
type FrozenGuard struct {
	Tickets *TicketStore
}

func NewFrozenGuard(tickets *TicketStore) *FrozenGuard {
	return &FrozenGuard{Tickets: tickets}
}

// GuardResult is the frozen guard's verdict for one agent.
type GuardResult struct {
	Rejected            bool
	Reason              string
	EstimatedDowntimeMs int64
}

// Check scans agentID's non-terminal tickets; a ticket whose phase is in
// FrozenGuardPhases rejects with a phase-dependent downtime estimate.
func (g *FrozenGuard) Check(agentID string) GuardResult {
	t, ok := g.Tickets.GetByAgent(agentID)
	if !ok {
		return GuardResult{Rejected: false}
	}
	if !FrozenGuardPhases[t.Phase] {
		return GuardResult{Rejected: false}
	}
	return GuardResult{
		Rejected:            true,
		Reason:              "agent " + agentID + " is mid-migration (" + string(t.Phase) + ")",
		EstimatedDowntimeMs: remainingDowntime(t.Phase).Milliseconds(),
	}
}

// remainingDowntime sums the default timeouts of the current phase and
// everything between it and REHYDRATING (the frozen window's far edge).
func remainingDowntime(from Phase) time.Duration {
	var total time.Duration
	counting := false
	for _, p := range CanonicalOrder {
		if p == from {
			counting = true
		}
		if counting {
			total += DefaultTimeout[p]
		}
		if p == PhaseRehydrating {
			break
		}
	}
	return total
}
