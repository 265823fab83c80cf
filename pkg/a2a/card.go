package a2a

import "github.com/a2aproject/a2a-go/a2a"

// Role is the closed set of Flock roles a registered agent may carry.
type Role string

const (
	RoleWorker       Role = "worker"
	RoleSysadmin     Role = "sysadmin"
	RoleOrchestrator Role = "orchestrator"
	RoleSystem       Role = "system"
)

// FlockMeta is the Flock metadata sidecar published alongside an a2a.AgentCard.
type FlockMeta struct {
	NodeID    string `json:"nodeId"`
	Role      Role   `json:"role"`
	Archetype string `json:"archetype,omitempty"`
}

// CardEntry pairs an A2A agent card with its Flock sidecar, as returned
// by the directory endpoint.
type CardEntry struct {
	ID   string         `json:"id"`
	Card *a2a.AgentCard `json:"card"`
	Meta FlockMeta      `json:"flockMeta"`
}
