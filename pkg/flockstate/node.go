package flockstate

import "time"

// NodeStatus is the liveness of a registered remote node.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
)

// NodeEntry is one row of the node registry: a remote (or local) Flock node
// and the agent ids it is known to host.
type NodeEntry struct {
	NodeID      string     `json:"nodeId"`
	A2AEndpoint string     `json:"a2aEndpoint"`
	Status      NodeStatus `json:"status"`
	LastSeen    time.Time  `json:"lastSeen"`
	AgentIDs    []string   `json:"agentIds"`
}

// Clone returns a deep copy safe for the caller to mutate.
func (n *NodeEntry) Clone() *NodeEntry {
	if n == nil {
		return nil
	}
	cp := *n
	cp.AgentIDs = append([]string(nil), n.AgentIDs...)
	return &cp
}

// HasAgent reports whether agentID is in the node's known agent set.
func (n *NodeEntry) HasAgent(agentID string) bool {
	for _, id := range n.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// AgentAssignment is the central-topology record of which node logically
// owns an agent, distinct from where the agent's LLM session runs.
type AgentAssignment struct {
	AgentID      string `json:"agentId"`
	NodeID       string `json:"nodeId"`
	PortablePath string `json:"portablePath,omitempty"`
}

// Clone returns a copy safe for the caller to mutate.
func (a *AgentAssignment) Clone() *AgentAssignment {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
