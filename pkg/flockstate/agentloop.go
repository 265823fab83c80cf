package flockstate

import "time"

// LoopState is the closed set of states an agent's work loop may occupy.
type LoopState string

const (
	LoopAwake    LoopState = "AWAKE"
	LoopSleep    LoopState = "SLEEP"
	LoopReactive LoopState = "REACTIVE"
)

// Valid reports whether s is one of the closed enum values.
func (s LoopState) Valid() bool {
	switch s {
	case LoopAwake, LoopSleep, LoopReactive:
		return true
	default:
		return false
	}
}

// AgentLoopRecord tracks which tick cadence an agent currently belongs to.
type AgentLoopRecord struct {
	AgentID     string     `json:"agentId"`
	State       LoopState  `json:"state"`
	LastTickAt  time.Time  `json:"lastTickAt"`
	AwakenedAt  time.Time  `json:"awakenedAt"`
	SleptAt     *time.Time `json:"sleptAt,omitempty"`
	SleepReason string     `json:"sleepReason,omitempty"`
}

// Clone returns a deep copy safe for the caller to mutate.
func (r *AgentLoopRecord) Clone() *AgentLoopRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.SleptAt != nil {
		t := *r.SleptAt
		cp.SleptAt = &t
	}
	return &cp
}
