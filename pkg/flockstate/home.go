// Package flockstate defines the entities of Flock's data model: homes,
// audit entries, task records, channels, agent-loop records, bridge
// mappings, and the node/assignment topology records. These are plain
// structs shared by every persistence backend in pkg/store and by the
// components that mutate them.
package flockstate

import "time"

// HomeState is the closed set of states a Home may occupy.
type HomeState string

const (
	HomeUnassigned   HomeState = "UNASSIGNED"
	HomeProvisioning HomeState = "PROVISIONING"
	HomeIdle         HomeState = "IDLE"
	HomeLeased       HomeState = "LEASED"
	HomeActive       HomeState = "ACTIVE"
	HomeFrozen       HomeState = "FROZEN"
	HomeMigrating    HomeState = "MIGRATING"
	HomeRetired      HomeState = "RETIRED"
)

// homeEdges is the declared Home FSM transition table.
var homeEdges = map[HomeState]map[HomeState]bool{
	HomeUnassigned:   {HomeProvisioning: true},
	HomeProvisioning: {HomeIdle: true},
	HomeIdle:         {HomeLeased: true},
	HomeLeased:       {HomeActive: true},
	HomeActive:       {HomeLeased: true, HomeFrozen: true, HomeRetired: true},
	HomeFrozen:       {HomeMigrating: true, HomeLeased: true, HomeRetired: true},
	HomeMigrating:    {HomeRetired: true, HomeLeased: true},
	HomeRetired:      {},
}

// ValidTransition reports whether from -> to is a legal Home FSM edge.
func ValidTransition(from, to HomeState) bool {
	edges, ok := homeEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Terminal reports whether state has no outgoing transitions.
func (s HomeState) Terminal() bool {
	return s == HomeRetired
}

// Home is the record of one agent living on one node.
type Home struct {
	HomeID         string         `json:"homeId"`
	AgentID        string         `json:"agentId"`
	NodeID         string         `json:"nodeId"`
	State          HomeState      `json:"state"`
	LeaseExpiresAt *time.Time     `json:"leaseExpiresAt,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// MakeHomeID builds the canonical "<agentId>@<nodeId>" home identifier.
func MakeHomeID(agentID, nodeID string) string {
	return agentID + "@" + nodeID
}

// Clone returns a deep copy safe for the caller to mutate.
func (h *Home) Clone() *Home {
	if h == nil {
		return nil
	}
	cp := *h
	if h.LeaseExpiresAt != nil {
		t := *h.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	if h.Metadata != nil {
		cp.Metadata = make(map[string]any, len(h.Metadata))
		for k, v := range h.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// HomeTransition is the append-only record of one Home state change.
type HomeTransition struct {
	HomeID      string    `json:"homeId"`
	FromState   HomeState `json:"fromState"`
	ToState     HomeState `json:"toState"`
	Reason      string    `json:"reason"`
	TriggeredBy string    `json:"triggeredBy"`
	Timestamp   time.Time `json:"timestamp"`
}
