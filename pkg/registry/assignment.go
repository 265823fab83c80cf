package registry

import (
	"sync"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/flockstate"
)

// AssignmentStore tracks the logical node owning each agent in central
// topology. It is distinct from NodeRegistry, which tracks node liveness.
type AssignmentStore interface {
	Assign(agentID, nodeID, portablePath string) error
	Get(agentID string) (*flockstate.AgentAssignment, bool)
	Reassign(agentID, newNodeID string) error
	List() []*flockstate.AgentAssignment
}

// MapAssignmentStore is the default mutex-guarded in-memory implementation.
type MapAssignmentStore struct {
	mu      sync.RWMutex
	byAgent map[string]*flockstate.AgentAssignment
}

func NewMapAssignmentStore() *MapAssignmentStore {
	return &MapAssignmentStore{byAgent: make(map[string]*flockstate.AgentAssignment)}
}

func (s *MapAssignmentStore) Assign(agentID, nodeID, portablePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAgent[agentID] = &flockstate.AgentAssignment{AgentID: agentID, NodeID: nodeID, PortablePath: portablePath}
	return nil
}

func (s *MapAssignmentStore) Get(agentID string) (*flockstate.AgentAssignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byAgent[agentID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Reassign moves agentID to newNodeID, preserving its portable path.
func (s *MapAssignmentStore) Reassign(agentID, newNodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byAgent[agentID]
	if !ok {
		return flockerr.New(flockerr.NotFound, "assignment_not_found", "no assignment for agent "+agentID)
	}
	s.byAgent[agentID] = &flockstate.AgentAssignment{AgentID: agentID, NodeID: newNodeID, PortablePath: a.PortablePath}
	return nil
}

func (s *MapAssignmentStore) List() []*flockstate.AgentAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*flockstate.AgentAssignment, 0, len(s.byAgent))
	for _, a := range s.byAgent {
		out = append(out, a.Clone())
	}
	return out
}

var _ AssignmentStore = (*MapAssignmentStore)(nil)
