package migration

import (
	"sync"
	"time"

	"github.com/flock-run/flock/pkg/flockerr"
)

// TicketFilter narrows a ticket list query.
type TicketFilter struct {
	AgentID    string
	Phase      Phase
	OnlyActive bool
}

// TicketStore is the in-memory single-writer-per-ticket store. All reads
// return deep clones.
type TicketStore struct {
	mu      sync.Mutex
	byID    map[string]*Ticket
	byAgent map[string]string // agentID -> migrationID, active tickets only
}

func NewTicketStore() *TicketStore {
	return &TicketStore{byID: make(map[string]*Ticket), byAgent: make(map[string]string)}
}

// Create inserts a new ticket in REQUESTED, rejecting a second active
// ticket for the same agent.
func (s *TicketStore) Create(t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byAgent[t.AgentID]; ok {
		if existing, ok := s.byID[existingID]; ok && !existing.Phase.Terminal() {
			return flockerr.New(flockerr.DuplicateMigration, "duplicate_migration",
				"agent "+t.AgentID+" already has an active migration ticket "+existingID)
		}
	}

	now := time.Now().UTC()
	t.Phase = PhaseRequested
	t.OwnershipHolder = OwnershipSource
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Timestamps == nil {
		t.Timestamps = map[Phase]time.Time{}
	}
	t.Timestamps[PhaseRequested] = now

	s.byID[t.MigrationID] = t.Clone()
	s.byAgent[t.AgentID] = t.MigrationID
	return nil
}

func (s *TicketStore) Get(migrationID string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[migrationID]
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "migration_not_found", "migration "+migrationID+" not found")
	}
	return t.Clone(), nil
}

func (s *TicketStore) GetByAgent(agentID string) (*Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAgent[agentID]
	if !ok {
		return nil, false
	}
	t, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// UpdatePhase validates the FSM edge and stamps Timestamps[toPhase] as one
// atomic operation under the store's lock.
func (s *TicketStore) UpdatePhase(migrationID string, toPhase Phase, mutate func(*Ticket)) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[migrationID]
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "migration_not_found", "migration "+migrationID+" not found")
	}
	if !ValidTransition(t.Phase, toPhase) {
		return nil, flockerr.New(flockerr.InvalidTransition, "invalid_phase_transition",
			"migration "+migrationID+" cannot move from "+string(t.Phase)+" to "+string(toPhase))
	}

	t.Phase = toPhase
	t.UpdatedAt = time.Now().UTC()
	t.Timestamps[toPhase] = t.UpdatedAt
	if mutate != nil {
		mutate(t)
	}

	return t.Clone(), nil
}

// Update applies an arbitrary mutation without a phase change (e.g. setting
// Error), stamping UpdatedAt.
func (s *TicketStore) Update(migrationID string, mutate func(*Ticket)) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[migrationID]
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "migration_not_found", "migration "+migrationID+" not found")
	}
	mutate(t)
	t.UpdatedAt = time.Now().UTC()
	return t.Clone(), nil
}

func (s *TicketStore) List(f TicketFilter) []*Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Ticket
	for _, t := range s.byID {
		if f.AgentID != "" && t.AgentID != f.AgentID {
			continue
		}
		if f.Phase != "" && t.Phase != f.Phase {
			continue
		}
		if f.OnlyActive && t.Phase.Terminal() {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

func (s *TicketStore) Remove(migrationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byID[migrationID]; ok {
		delete(s.byAgent, t.AgentID)
	}
	delete(s.byID, migrationID)
}

// FrozenGuardPhases is the non-terminal-phase subset relevant to
// the frozen guard (FREEZING through REHYDRATING).
var FrozenGuardPhases = map[Phase]bool{
	PhaseFreezing:     true,
	PhaseFrozen:       true,
	PhaseSnapshotting: true,
	PhaseTransferring: true,
	PhaseVerifying:    true,
	PhaseRehydrating:  true,
}
