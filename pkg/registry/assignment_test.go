package registry

import (
	"testing"

	"github.com/flock-run/flock/pkg/flockerr"
)

func TestMapAssignmentStoreAssignAndGet(t *testing.T) {
	s := NewMapAssignmentStore()
	if err := s.Assign("worker-1", "node-a", "/vaults/worker-1"); err != nil {
		t.Fatalf("Assign unexpected error: %v", err)
	}

	got, ok := s.Get("worker-1")
	if !ok {
		t.Fatal("expected assignment to be found")
	}
	if got.NodeID != "node-a" || got.PortablePath != "/vaults/worker-1" {
		t.Errorf("got = %+v, want NodeID=node-a PortablePath=/vaults/worker-1", got)
	}
}

func TestMapAssignmentStoreGetReturnsDefensiveCopy(t *testing.T) {
	s := NewMapAssignmentStore()
	if err := s.Assign("worker-1", "node-a", ""); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get("worker-1")
	got.NodeID = "tampered"

	again, _ := s.Get("worker-1")
	if again.NodeID != "node-a" {
		t.Error("mutating a returned AgentAssignment should not affect the stored copy")
	}
}

func TestMapAssignmentStoreReassignPreservesPortablePath(t *testing.T) {
	s := NewMapAssignmentStore()
	if err := s.Assign("worker-1", "node-a", "/vaults/worker-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Reassign("worker-1", "node-b"); err != nil {
		t.Fatalf("Reassign unexpected error: %v", err)
	}

	got, _ := s.Get("worker-1")
	if got.NodeID != "node-b" {
		t.Errorf("NodeID = %q, want node-b", got.NodeID)
	}
	if got.PortablePath != "/vaults/worker-1" {
		t.Errorf("PortablePath = %q, want preserved /vaults/worker-1", got.PortablePath)
	}
}

func TestMapAssignmentStoreReassignUnknownAgentReturnsNotFound(t *testing.T) {
	s := NewMapAssignmentStore()
	err := s.Reassign("ghost", "node-b")
	if kind, ok := flockerr.KindOf(err); !ok || kind != flockerr.NotFound {
		t.Errorf("err kind = %v (ok=%v), want NotFound", kind, ok)
	}
}

func TestMapAssignmentStoreListReturnsAllAssignments(t *testing.T) {
	s := NewMapAssignmentStore()
	if err := s.Assign("worker-1", "node-a", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Assign("worker-2", "node-b", ""); err != nil {
		t.Fatal(err)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List length = %d, want 2", len(list))
	}
	byAgent := map[string]string{}
	for _, a := range list {
		byAgent[a.AgentID] = a.NodeID
	}
	if byAgent["worker-1"] != "node-a" || byAgent["worker-2"] != "node-b" {
		t.Errorf("List contents = %v, want worker-1->node-a, worker-2->node-b", byAgent)
	}
}
