package home

import (
	"context"
	"testing"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/store/memory"
)

func newTestManager() *Manager {
	st := memory.New()
	return NewManager(st.Homes(), st.Transitions())
}

func TestManagerCreateStartsUnassigned(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	h, err := m.Create(ctx, "agent-1", "node-1")
	if err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}
	if h.State != flockstate.HomeUnassigned {
		t.Errorf("State = %s, want UNASSIGNED", h.State)
	}
	if h.HomeID != "agent-1@node-1" {
		t.Errorf("HomeID = %q, want %q", h.HomeID, "agent-1@node-1")
	}
}

func TestManagerTransitionValidatesFSMEdge(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	h, err := m.Create(ctx, "agent-1", "node-1")
	if err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}

	if _, err := m.Transition(ctx, h.HomeID, flockstate.HomeActive, "skip ahead", "test"); err == nil {
		t.Fatal("jumping from UNASSIGNED straight to ACTIVE should be rejected")
	} else if kind, ok := flockerr.KindOf(err); !ok || kind != flockerr.InvalidTransition {
		t.Errorf("error kind = %v (ok=%v), want InvalidTransition", kind, ok)
	}

	updated, err := m.Transition(ctx, h.HomeID, flockstate.HomeProvisioning, "provisioning started", "test")
	if err != nil {
		t.Fatalf("legal transition unexpectedly failed: %v", err)
	}
	if updated.State != flockstate.HomeProvisioning {
		t.Errorf("State = %s, want PROVISIONING", updated.State)
	}
}

func TestManagerTransitionRecordsHistory(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	h, err := m.Create(ctx, "agent-1", "node-1")
	if err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}
	if _, err := m.Transition(ctx, h.HomeID, flockstate.HomeProvisioning, "booting", "boot"); err != nil {
		t.Fatalf("Transition unexpected error: %v", err)
	}
	if _, err := m.Transition(ctx, h.HomeID, flockstate.HomeIdle, "ready", "boot"); err != nil {
		t.Fatalf("Transition unexpected error: %v", err)
	}

	history, err := m.History(ctx, h.HomeID)
	if err != nil {
		t.Fatalf("History unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History length = %d, want 2", len(history))
	}
	if history[0].ToState != flockstate.HomeProvisioning || history[1].ToState != flockstate.HomeIdle {
		t.Errorf("History out of order: %+v", history)
	}
}

func TestManagerTransitionUnknownHome(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	_, err := m.Transition(ctx, "no-such-home", flockstate.HomeIdle, "reason", "test")
	if err == nil {
		t.Fatal("Transition on an unknown home should fail")
	}
	if kind, ok := flockerr.KindOf(err); !ok || kind != flockerr.NotFound {
		t.Errorf("error kind = %v (ok=%v), want NotFound", kind, ok)
	}
}
