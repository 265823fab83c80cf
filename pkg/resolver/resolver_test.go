package resolver

import (
	"testing"
	"time"

	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/registry"
)

func onlineNode(nodeID, endpoint string, agentIDs []string) *flockstate.NodeEntry {
	return &flockstate.NodeEntry{
		NodeID:      nodeID,
		A2AEndpoint: endpoint,
		Status:      flockstate.NodeOnline,
		LastSeen:    time.Now().UTC(),
		AgentIDs:    agentIDs,
	}
}

func TestPeerResolverLocalHostingWins(t *testing.T) {
	reg := registry.NewNodeRegistry()
	if err := reg.Register(onlineNode("remote-node", "http://remote:9000", []string{"worker-alpha"})); err != nil {
		t.Fatalf("Register unexpected error: %v", err)
	}

	r := NewPeerResolver(map[string]bool{"worker-alpha": true}, reg)
	res, err := r.Resolve("worker-alpha")
	if err != nil {
		t.Fatalf("Resolve unexpected error: %v", err)
	}
	if !res.Local {
		t.Errorf("Local = false, want true when agent is locally hosted")
	}
}

func TestPeerResolverFallsBackToRemoteRegistry(t *testing.T) {
	reg := registry.NewNodeRegistry()
	if err := reg.Register(onlineNode("remote-node", "http://remote:9000", []string{"worker-beta"})); err != nil {
		t.Fatalf("Register unexpected error: %v", err)
	}

	r := NewPeerResolver(map[string]bool{}, reg)
	res, err := r.Resolve("worker-beta")
	if err != nil {
		t.Fatalf("Resolve unexpected error: %v", err)
	}
	if res.Local {
		t.Fatal("Local = true, want remote resolution via registry")
	}
	if res.Endpoint != "http://remote:9000" || res.NodeID != "remote-node" {
		t.Errorf("Resolution = %+v, want remote-node/http://remote:9000", res)
	}
}

func TestPeerResolverFallsBackToLocalWhenUnknown(t *testing.T) {
	reg := registry.NewNodeRegistry()
	r := NewPeerResolver(map[string]bool{}, reg)

	res, err := r.Resolve("nobody-hosts-this")
	if err != nil {
		t.Fatalf("Resolve unexpected error: %v", err)
	}
	if !res.Local {
		t.Errorf("Local = false, want true (fallback lets the server 404)")
	}
}

func TestCentralResolverRoutesWorkersLocal(t *testing.T) {
	r := NewCentralResolver(nil)
	res, err := r.Resolve("worker-alpha")
	if err != nil {
		t.Fatalf("Resolve unexpected error: %v", err)
	}
	if !res.Local {
		t.Errorf("Local = false, want true for every non-sysadmin agent")
	}
}

// TestCentralSysadminResolverReroutesAfterReassign mirrors S6: a caller's
// sysadmin traffic follows its assignment store entry to whichever node it
// currently points at, and stops pointing at the old one.
func TestCentralSysadminResolverReroutesAfterReassign(t *testing.T) {
	assignments := registry.NewMapAssignmentStore()
	assignments.Assign("worker-alpha", "worker-node-1", "")

	endpoints := map[string]string{
		"worker-node-1": "http://worker-node-1:9000",
		"worker-node-2": "http://worker-node-2:9000",
	}
	lookup := func(nodeID string) (string, bool) {
		ep, ok := endpoints[nodeID]
		return ep, ok
	}

	sysadmin := NewCentralSysadminResolver(assignments, lookup, "worker-node-1")
	central := NewCentralResolver(sysadmin)

	res, err := central.Resolve("sysadmin")
	if err != nil {
		t.Fatalf("Resolve unexpected error: %v", err)
	}
	if !res.Local {
		t.Errorf("caller assigned to self node should resolve local, got %+v", res)
	}

	if err := assignments.Reassign("worker-alpha", "worker-node-2"); err != nil {
		t.Fatalf("Reassign unexpected error: %v", err)
	}

	res, err = sysadmin.ResolveSysadmin("worker-alpha")
	if err != nil {
		t.Fatalf("ResolveSysadmin unexpected error: %v", err)
	}
	if res.Local {
		t.Fatal("Local = true, want remote resolution to worker-node-2 after reassign")
	}
	if res.NodeID != "worker-node-2" {
		t.Errorf("NodeID = %q, want worker-node-2", res.NodeID)
	}
	if res.Endpoint != "http://worker-node-2:9000" {
		t.Errorf("Endpoint = %q, want worker-node-2's endpoint", res.Endpoint)
	}
	if res.NodeID == "worker-node-1" {
		t.Error("resolution must not still point at worker-node-1")
	}
}
