package registry

import (
	"time"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/flockstate"
)

// NodeRegistry is the process-wide index of remote node endpoints and their
// liveness. It generalizes BaseRegistry[T] to Flock's NodeEntry, adding
// agent-set maintenance and a hierarchical parent-registry fallback.
type NodeRegistry struct {
	base   *BaseRegistry[*flockstate.NodeEntry]
	Parent *NodeRegistry
}

// NewNodeRegistry returns an empty registry with no parent.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{base: NewBaseRegistry[*flockstate.NodeEntry]()}
}

// Register upserts a node entry, replacing any existing entry for the same
// node id (unlike BaseRegistry.Register, which errors on a duplicate name).
func (r *NodeRegistry) Register(entry *flockstate.NodeEntry) error {
	_ = r.base.Remove(entry.NodeID)
	return r.base.Register(entry.NodeID, entry.Clone())
}

// Get returns the node entry for nodeID, consulting the parent registry
// (if configured) when not found locally.
func (r *NodeRegistry) Get(nodeID string) (*flockstate.NodeEntry, bool) {
	if e, ok := r.base.Get(nodeID); ok {
		return e.Clone(), true
	}
	if r.Parent != nil {
		return r.Parent.Get(nodeID)
	}
	return nil, false
}

// List returns all locally registered node entries (parent entries are not
// merged in, since they belong to a distinct registry scope).
func (r *NodeRegistry) List() []*flockstate.NodeEntry {
	items := r.base.List()
	out := make([]*flockstate.NodeEntry, len(items))
	for i, e := range items {
		out[i] = e.Clone()
	}
	return out
}

// UpdateAgents replaces the set of agent ids a node is known to host and
// refreshes its LastSeen timestamp.
func (r *NodeRegistry) UpdateAgents(nodeID string, agentIDs []string) error {
	e, ok := r.base.Get(nodeID)
	if !ok {
		return flockerr.New(flockerr.NotFound, "node_not_found", "node "+nodeID+" not registered")
	}
	updated := e.Clone()
	updated.AgentIDs = append([]string(nil), agentIDs...)
	updated.LastSeen = now()
	_ = r.base.Remove(nodeID)
	return r.base.Register(nodeID, updated)
}

// MarkStatus flips a node's liveness status and stamps LastSeen.
func (r *NodeRegistry) MarkStatus(nodeID string, status flockstate.NodeStatus) error {
	e, ok := r.base.Get(nodeID)
	if !ok {
		return flockerr.New(flockerr.NotFound, "node_not_found", "node "+nodeID+" not registered")
	}
	updated := e.Clone()
	updated.Status = status
	updated.LastSeen = now()
	_ = r.base.Remove(nodeID)
	return r.base.Register(nodeID, updated)
}

// FindNodeForAgent returns the first online node (searching local entries,
// then the parent registry) whose AgentIDs contains agentID.
func (r *NodeRegistry) FindNodeForAgent(agentID string) (*flockstate.NodeEntry, bool) {
	for _, e := range r.base.List() {
		if e.Status == flockstate.NodeOnline && e.HasAgent(agentID) {
			return e.Clone(), true
		}
	}
	if r.Parent != nil {
		return r.Parent.FindNodeForAgent(agentID)
	}
	return nil, false
}

func now() time.Time { return time.Now().UTC() }
