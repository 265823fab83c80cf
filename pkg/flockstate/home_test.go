package flockstate

import "testing"

func TestHomeValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from HomeState
		to   HomeState
		want bool
	}{
		{"unassigned to provisioning", HomeUnassigned, HomeProvisioning, true},
		{"unassigned skips straight to idle", HomeUnassigned, HomeIdle, false},
		{"provisioning to idle", HomeProvisioning, HomeIdle, true},
		{"idle to leased", HomeIdle, HomeLeased, true},
		{"leased to active", HomeLeased, HomeActive, true},
		{"active to frozen", HomeActive, HomeFrozen, true},
		{"active to leased (lease returned)", HomeActive, HomeLeased, true},
		{"active to retired", HomeActive, HomeRetired, true},
		{"frozen to migrating", HomeFrozen, HomeMigrating, true},
		{"frozen to leased (migration aborted)", HomeFrozen, HomeLeased, true},
		{"migrating to retired", HomeMigrating, HomeRetired, true},
		{"migrating to leased (migration aborted)", HomeMigrating, HomeLeased, true},
		{"retired is terminal", HomeRetired, HomeProvisioning, false},
		{"unknown source state", HomeState("BOGUS"), HomeIdle, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestHomeTerminal(t *testing.T) {
	if !HomeRetired.Terminal() {
		t.Error("RETIRED should be terminal")
	}
	for _, s := range []HomeState{HomeUnassigned, HomeProvisioning, HomeIdle, HomeLeased, HomeActive, HomeFrozen, HomeMigrating} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestMakeHomeID(t *testing.T) {
	if got := MakeHomeID("agent-1", "node-1"); got != "agent-1@node-1" {
		t.Errorf("MakeHomeID() = %q, want %q", got, "agent-1@node-1")
	}
}

func TestHomeCloneIndependence(t *testing.T) {
	orig := &Home{
		HomeID:   "agent-1@node-1",
		State:    HomeActive,
		Metadata: map[string]any{"k": "v"},
	}
	cp := orig.Clone()
	cp.Metadata["k"] = "mutated"
	cp.State = HomeFrozen

	if orig.Metadata["k"] != "v" {
		t.Error("mutating the clone's Metadata mutated the original")
	}
	if orig.State != HomeActive {
		t.Error("mutating the clone's State mutated the original")
	}
	if got := (*Home)(nil).Clone(); got != nil {
		t.Errorf("Clone() on nil Home = %v, want nil", got)
	}
}
