// Package resolver implements the routing fabric: both topology modes
// (peer and central) implement the same one-method signature so the A2A
// client can dispatch without knowing which topology it's running in.
package resolver

import (
	"github.com/flock-run/flock/pkg/registry"
)

// Resolution is the outcome of resolving an agent id to a dispatch target.
type Resolution struct {
	Local    bool
	Endpoint string
	NodeID   string
}

// Resolver answers "where does this agent live" for routing purposes.
type Resolver interface {
	Resolve(agentID string) (Resolution, error)
}

// SysadminResolver is consulted by CentralResolver for the distinguished
// sysadmin role, since sysadmin routing depends on the assignment store
// rather than the worker-agent local-hosting rule.
type SysadminResolver interface {
	ResolveSysadmin(callerAgentID string) (Resolution, error)
}

const sysadminAgentID = "sysadmin"

// PeerResolver implements the all-nodes-equal topology.
type PeerResolver struct {
	LocalAgents map[string]bool
	Registry    *registry.NodeRegistry
}

func NewPeerResolver(localAgents map[string]bool, reg *registry.NodeRegistry) *PeerResolver {
	return &PeerResolver{LocalAgents: localAgents, Registry: reg}
}

// Resolve applies the peer resolution order: local hosting, then the local
// registry, then (transitively, via NodeRegistry.Parent) a parent registry,
// falling back to local so the server can answer with a 404 rather than
// hanging on an unreachable remote.
func (r *PeerResolver) Resolve(agentID string) (Resolution, error) {
	if r.LocalAgents[agentID] {
		return Resolution{Local: true}, nil
	}
	if node, ok := r.Registry.FindNodeForAgent(agentID); ok {
		return Resolution{Local: false, Endpoint: node.A2AEndpoint, NodeID: node.NodeID}, nil
	}
	return Resolution{Local: true}, nil
}

// CentralResolver implements the single-co-located-host topology: every
// worker agent resolves local; only sysadmin routing consults the
// assignment-aware SysadminResolver.
type CentralResolver struct {
	Sysadmin SysadminResolver
}

func NewCentralResolver(sysadmin SysadminResolver) *CentralResolver {
	return &CentralResolver{Sysadmin: sysadmin}
}

func (r *CentralResolver) Resolve(agentID string) (Resolution, error) {
	if agentID == sysadminAgentID {
		return r.Sysadmin.ResolveSysadmin(agentID)
	}
	return Resolution{Local: true}, nil
}

// CentralSysadminResolver inspects the assignment store: a caller assigned
// to a remote node has its sysadmin call routed to that node's local
// sysadmin instance instead of this host's.
type CentralSysadminResolver struct {
	Assignments  registry.AssignmentStore
	NodeEndpoint func(nodeID string) (string, bool)
	SelfNodeID   string
}

func NewCentralSysadminResolver(assignments registry.AssignmentStore, nodeEndpoint func(string) (string, bool), selfNodeID string) *CentralSysadminResolver {
	return &CentralSysadminResolver{Assignments: assignments, NodeEndpoint: nodeEndpoint, SelfNodeID: selfNodeID}
}

// ResolveSysadmin routes to the caller's assigned node when it differs from
// this host, else resolves local.
func (r *CentralSysadminResolver) ResolveSysadmin(callerAgentID string) (Resolution, error) {
	a, ok := r.Assignments.Get(callerAgentID)
	if !ok || a.NodeID == r.SelfNodeID {
		return Resolution{Local: true}, nil
	}
	endpoint, ok := r.NodeEndpoint(a.NodeID)
	if !ok {
		return Resolution{Local: true}, nil
	}
	return Resolution{Local: false, Endpoint: endpoint, NodeID: a.NodeID}, nil
}

var (
	_ Resolver         = (*PeerResolver)(nil)
	_ Resolver         = (*CentralResolver)(nil)
	_ SysadminResolver = (*CentralSysadminResolver)(nil)
)
