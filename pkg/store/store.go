// Package store defines the backend-agnostic persistence substrate: one
// narrow CRUD + filtered-list interface per entity, plus the aggregate
// Store interface that boot assembly wires up. pkg/store/memory and
// pkg/store/sqlstore are the two conforming implementations.
package store

import (
	"context"
	"time"

	"github.com/flock-run/flock/pkg/flockstate"
)

// HomeFilter narrows a home list/count query. A zero value field means
// "do not constrain".
type HomeFilter struct {
	NodeID  string
	AgentID string
	State   flockstate.HomeState
	Limit   int
}

// HomeStore persists Home rows.
type HomeStore interface {
	Insert(ctx context.Context, h *flockstate.Home) error
	Update(ctx context.Context, h *flockstate.Home) error
	Get(ctx context.Context, homeID string) (*flockstate.Home, error)
	GetByAgentNode(ctx context.Context, agentID, nodeID string) (*flockstate.Home, error)
	List(ctx context.Context, f HomeFilter) ([]*flockstate.Home, error)
	Delete(ctx context.Context, homeID string) error
}

// TransitionFilter narrows a transition list query.
type TransitionFilter struct {
	HomeID string
	Since  *time.Time
	Limit  int
}

// TransitionStore persists HomeTransition rows, oldest-first.
type TransitionStore interface {
	Append(ctx context.Context, t *flockstate.HomeTransition) error
	List(ctx context.Context, f TransitionFilter) ([]*flockstate.HomeTransition, error)
}

// AuditFilter narrows an audit query. Results are newest-first.
type AuditFilter struct {
	AgentID string
	HomeID  string
	Level   flockstate.AuditLevel
	Since   *time.Time
	Limit   int
}

// AuditStore persists AuditEntry rows.
type AuditStore interface {
	Append(ctx context.Context, e *flockstate.AuditEntry) error
	Query(ctx context.Context, f AuditFilter) ([]*flockstate.AuditEntry, error)
	CountByLevel(ctx context.Context, since *time.Time) (map[flockstate.AuditLevel]int64, error)
}

// TaskFilter narrows a task query. Results are newest-first by CreatedAt.
type TaskFilter struct {
	FromAgentID string
	ToAgentID   string
	ContextID   string
	State       flockstate.TaskState
	Since       *time.Time
	Limit       int
}

// TaskStore persists Flock's own TaskRecord rows (distinct from the
// a2asrv.TaskStore which persists raw a2a.Task objects for
// protocol-level resumability — both are wired at boot).
type TaskStore interface {
	Insert(ctx context.Context, t *flockstate.TaskRecord) error
	Update(ctx context.Context, t *flockstate.TaskRecord) error
	Get(ctx context.Context, taskID string) (*flockstate.TaskRecord, error)
	List(ctx context.Context, f TaskFilter) ([]*flockstate.TaskRecord, error)
}

// ChannelStore persists Channel rows.
type ChannelStore interface {
	Insert(ctx context.Context, c *flockstate.Channel) error
	Update(ctx context.Context, c *flockstate.Channel) error
	Get(ctx context.Context, channelID string) (*flockstate.Channel, error)
	ListForMember(ctx context.Context, agentID string) ([]*flockstate.Channel, error)
	Delete(ctx context.Context, channelID string) error
}

// ChannelMessageFilter narrows a channel message query.
type ChannelMessageFilter struct {
	ChannelID string
	SinceSeq  int64
	Limit     int
}

// ChannelMessageStore persists ChannelMessage rows and assigns Seq.
type ChannelMessageStore interface {
	// Append assigns the next Seq for msg.ChannelID and persists it.
	Append(ctx context.Context, msg *flockstate.ChannelMessage) error
	List(ctx context.Context, f ChannelMessageFilter) ([]*flockstate.ChannelMessage, error)
}

// AgentLoopStore persists AgentLoopRecord rows, one per agent.
type AgentLoopStore interface {
	Upsert(ctx context.Context, r *flockstate.AgentLoopRecord) error
	Get(ctx context.Context, agentID string) (*flockstate.AgentLoopRecord, error)
	ListByState(ctx context.Context, state flockstate.LoopState) ([]*flockstate.AgentLoopRecord, error)
}

// BridgeStore persists BridgeMapping rows.
type BridgeStore interface {
	Insert(ctx context.Context, b *flockstate.BridgeMapping) error
	Update(ctx context.Context, b *flockstate.BridgeMapping) error
	Get(ctx context.Context, bridgeID string) (*flockstate.BridgeMapping, error)
	ListForChannel(ctx context.Context, channelID string) ([]*flockstate.BridgeMapping, error)
}

// Store is the aggregate handle boot assembly wires into every component
// that needs persistence. Migrate is idempotent DDL bootstrap; Close
// releases resources.
type Store interface {
	Homes() HomeStore
	Transitions() TransitionStore
	Audit() AuditStore
	Tasks() TaskStore
	Channels() ChannelStore
	ChannelMessages() ChannelMessageStore
	AgentLoops() AgentLoopStore
	Bridges() BridgeStore

	Migrate(ctx context.Context) error
	Close() error
}
