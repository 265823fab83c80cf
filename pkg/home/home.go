// Package home owns Home lifecycle: creation and FSM-validated
// transitions, following the same atomic validate-then-write discipline
// the migration ticket store applies to phase updates.
package home

import (
	"context"
	"fmt"
	"time"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/flocklog"
	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/store"
)

// Manager creates homes and performs FSM-validated transitions.
type Manager struct {
	homes       store.HomeStore
	transitions store.TransitionStore
}

func NewManager(homes store.HomeStore, transitions store.TransitionStore) *Manager {
	return &Manager{homes: homes, transitions: transitions}
}

// Create inserts a new home in UNASSIGNED for the given agent/node pair.
func (m *Manager) Create(ctx context.Context, agentID, nodeID string) (*flockstate.Home, error) {
	now := time.Now().UTC()
	h := &flockstate.Home{
		HomeID:    flockstate.MakeHomeID(agentID, nodeID),
		AgentID:   agentID,
		NodeID:    nodeID,
		State:     flockstate.HomeUnassigned,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.homes.Insert(ctx, h); err != nil {
		return nil, fmt.Errorf("create home %s: %w", h.HomeID, err)
	}
	return h, nil
}

// Transition atomically validates the FSM edge, writes the home update, and
// appends a HomeTransition record. Illegal edges return
// flockerr.ErrInvalidTransition; an unknown homeId returns flockerr.ErrNotFound.
func (m *Manager) Transition(ctx context.Context, homeID string, to flockstate.HomeState, reason, triggeredBy string) (*flockstate.Home, error) {
	h, err := m.homes.Get(ctx, homeID)
	if err != nil {
		return nil, err
	}

	if !flockstate.ValidTransition(h.State, to) {
		return nil, flockerr.New(flockerr.InvalidTransition, "invalid_home_transition",
			fmt.Sprintf("home %s cannot move from %s to %s", homeID, h.State, to))
	}

	from := h.State
	now := time.Now().UTC()
	h.State = to
	h.UpdatedAt = now
	if err := m.homes.Update(ctx, h); err != nil {
		return nil, fmt.Errorf("update home %s: %w", homeID, err)
	}

	tr := &flockstate.HomeTransition{
		HomeID:      homeID,
		FromState:   from,
		ToState:     to,
		Reason:      reason,
		TriggeredBy: triggeredBy,
		Timestamp:   now,
	}
	if err := m.transitions.Append(ctx, tr); err != nil {
		flocklog.GetLogger().Error("home transition recorded but audit append failed",
			"homeId", homeID, "from", from, "to", to, "error", err)
	}

	return h.Clone(), nil
}

// Get returns the home, or flockerr.ErrNotFound if unknown.
func (m *Manager) Get(ctx context.Context, homeID string) (*flockstate.Home, error) {
	return m.homes.Get(ctx, homeID)
}

// GetByAgentNode looks up a home by its constituent agent/node pair.
func (m *Manager) GetByAgentNode(ctx context.Context, agentID, nodeID string) (*flockstate.Home, error) {
	return m.homes.GetByAgentNode(ctx, agentID, nodeID)
}

// List returns homes matching the filter.
func (m *Manager) List(ctx context.Context, f store.HomeFilter) ([]*flockstate.Home, error) {
	return m.homes.List(ctx, f)
}

// History returns the transition history for a home, oldest first.
func (m *Manager) History(ctx context.Context, homeID string) ([]*flockstate.HomeTransition, error) {
	return m.transitions.List(ctx, store.TransitionFilter{HomeID: homeID})
}
