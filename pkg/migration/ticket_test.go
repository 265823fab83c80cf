package migration

import (
	"testing"
	"time"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from Phase
		to   Phase
		want bool
	}{
		{"requested to authorized", PhaseRequested, PhaseAuthorized, true},
		{"requested to failed", PhaseRequested, PhaseFailed, true},
		{"requested to frozen skips steps", PhaseRequested, PhaseFrozen, false},
		{"requested to rolling back too early", PhaseRequested, PhaseRollingBack, false},
		{"frozen to rolling back", PhaseFrozen, PhaseRollingBack, true},
		{"snapshotting to rolling back", PhaseSnapshotting, PhaseRollingBack, true},
		{"finalizing to completed", PhaseFinalizing, PhaseCompleted, true},
		{"finalizing to rolling back", PhaseFinalizing, PhaseRollingBack, true},
		{"rolling back to aborted", PhaseRollingBack, PhaseAborted, true},
		{"rolling back to failed", PhaseRollingBack, PhaseFailed, true},
		{"rolling back to authorized invalid", PhaseRollingBack, PhaseAuthorized, false},
		{"completed has no outgoing edges", PhaseCompleted, PhaseFailed, false},
		{"failed has no outgoing edges", PhaseFailed, PhaseCompleted, false},
		{"self transition rejected", PhaseFrozen, PhaseFrozen, false},
		{"unknown phase rejected", Phase("BOGUS"), PhaseFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// TestEdgesExhaustive walks CanonicalOrder end to end and checks every
// consecutive pair is a valid forward edge, and that every non-terminal
// phase on the happy path can also reach FAILED.
func TestEdgesExhaustive(t *testing.T) {
	for i := 0; i+1 < len(CanonicalOrder); i++ {
		from, to := CanonicalOrder[i], CanonicalOrder[i+1]
		if !ValidTransition(from, to) {
			t.Errorf("canonical edge %s -> %s is not a valid transition", from, to)
		}
	}
	for _, phase := range CanonicalOrder {
		if phase.Terminal() {
			continue
		}
		if !ValidTransition(phase, PhaseFailed) {
			t.Errorf("non-terminal phase %s cannot reach FAILED", phase)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []Phase{PhaseCompleted, PhaseAborted, PhaseFailed}
	for _, p := range terminal {
		if !p.Terminal() {
			t.Errorf("%s should be terminal", p)
		}
	}
	nonTerminal := []Phase{PhaseRequested, PhaseFrozen, PhaseRollingBack, PhaseVerifying}
	for _, p := range nonTerminal {
		if p.Terminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
}

func TestNextPhase(t *testing.T) {
	next, ok := NextPhase(PhaseRequested)
	if !ok || next != PhaseAuthorized {
		t.Errorf("NextPhase(REQUESTED) = (%s, %v), want (AUTHORIZED, true)", next, ok)
	}

	if _, ok := NextPhase(PhaseCompleted); ok {
		t.Errorf("NextPhase(COMPLETED) should have no successor")
	}

	if _, ok := NextPhase(PhaseRollingBack); ok {
		t.Errorf("NextPhase(ROLLING_BACK) is off the canonical happy path and should have no successor")
	}
}

func TestTicketClone(t *testing.T) {
	orig := &Ticket{
		MigrationID: "m-1",
		AgentID:     "agent-1",
		Phase:       PhaseFrozen,
		Timestamps:  map[Phase]time.Time{PhaseRequested: time.Now()},
	}
	cp := orig.Clone()
	cp.Timestamps[PhaseAuthorized] = time.Now()
	cp.Phase = PhaseSnapshotting

	if _, ok := orig.Timestamps[PhaseAuthorized]; ok {
		t.Error("mutating the clone's Timestamps map mutated the original")
	}
	if orig.Phase != PhaseFrozen {
		t.Error("mutating the clone's Phase mutated the original")
	}

	if got := (*Ticket)(nil).Clone(); got != nil {
		t.Errorf("Clone() on nil Ticket = %v, want nil", got)
	}
}
