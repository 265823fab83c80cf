// Package memory is the in-memory conforming implementation of
// pkg/store.Store, for tests and ephemeral nodes. Every sub-store guards
// its own map with a sync.RWMutex, following the lock discipline of
// pkg/registry.BaseRegistry, and every read returns a defensive copy.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/store"
)

// Store is the in-memory aggregate Store.
type Store struct {
	homes    *homeStore
	trans    *transitionStore
	audit    *auditStore
	tasks    *taskStore
	channels *channelStore
	chanMsgs *channelMessageStore
	loops    *agentLoopStore
	bridges  *bridgeStore
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		homes:    &homeStore{byID: map[string]*flockstate.Home{}},
		trans:    &transitionStore{byHome: map[string][]*flockstate.HomeTransition{}},
		audit:    &auditStore{},
		tasks:    &taskStore{byID: map[string]*flockstate.TaskRecord{}},
		channels: &channelStore{byID: map[string]*flockstate.Channel{}},
		chanMsgs: &channelMessageStore{byChannel: map[string][]*flockstate.ChannelMessage{}},
		loops:    &agentLoopStore{byAgent: map[string]*flockstate.AgentLoopRecord{}},
		bridges:  &bridgeStore{byID: map[string]*flockstate.BridgeMapping{}},
	}
}

func (s *Store) Homes() store.HomeStore                     { return s.homes }
func (s *Store) Transitions() store.TransitionStore         { return s.trans }
func (s *Store) Audit() store.AuditStore                    { return s.audit }
func (s *Store) Tasks() store.TaskStore                     { return s.tasks }
func (s *Store) Channels() store.ChannelStore               { return s.channels }
func (s *Store) ChannelMessages() store.ChannelMessageStore { return s.chanMsgs }
func (s *Store) AgentLoops() store.AgentLoopStore           { return s.loops }
func (s *Store) Bridges() store.BridgeStore                 { return s.bridges }

// Migrate is a no-op for the in-memory backend: there is no schema to
// bootstrap, but the method exists so callers are backend-agnostic.
func (s *Store) Migrate(ctx context.Context) error { return nil }

// Close releases no resources for the in-memory backend.
func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)

// --- homes ---

type homeStore struct {
	mu   sync.RWMutex
	byID map[string]*flockstate.Home
}

func (s *homeStore) Insert(ctx context.Context, h *flockstate.Home) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[h.HomeID] = h.Clone()
	return nil
}

func (s *homeStore) Update(ctx context.Context, h *flockstate.Home) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[h.HomeID]; !ok {
		return flockerr.New(flockerr.NotFound, "home_not_found", "home "+h.HomeID+" not found")
	}
	s.byID[h.HomeID] = h.Clone()
	return nil
}

func (s *homeStore) Get(ctx context.Context, homeID string) (*flockstate.Home, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.byID[homeID]
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "home_not_found", "home "+homeID+" not found")
	}
	return h.Clone(), nil
}

func (s *homeStore) GetByAgentNode(ctx context.Context, agentID, nodeID string) (*flockstate.Home, error) {
	return s.Get(ctx, flockstate.MakeHomeID(agentID, nodeID))
}

func (s *homeStore) List(ctx context.Context, f store.HomeFilter) ([]*flockstate.Home, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*flockstate.Home
	for _, h := range s.byID {
		if f.NodeID != "" && h.NodeID != f.NodeID {
			continue
		}
		if f.AgentID != "" && h.AgentID != f.AgentID {
			continue
		}
		if f.State != "" && h.State != f.State {
			continue
		}
		out = append(out, h.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return limitSlice(out, f.Limit), nil
}

func (s *homeStore) Delete(ctx context.Context, homeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, homeID)
	return nil
}

// --- transitions ---

type transitionStore struct {
	mu     sync.RWMutex
	byHome map[string][]*flockstate.HomeTransition
}

func (s *transitionStore) Append(ctx context.Context, t *flockstate.HomeTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.byHome[t.HomeID] = append(s.byHome[t.HomeID], &cp)
	return nil
}

func (s *transitionStore) List(ctx context.Context, f store.TransitionFilter) ([]*flockstate.HomeTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var src []*flockstate.HomeTransition
	if f.HomeID != "" {
		src = s.byHome[f.HomeID]
	} else {
		for _, list := range s.byHome {
			src = append(src, list...)
		}
	}
	var out []*flockstate.HomeTransition
	for _, t := range src {
		if f.Since != nil && t.Timestamp.Before(*f.Since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return limitSlice(out, f.Limit), nil
}

// --- audit ---

type auditStore struct {
	mu      sync.RWMutex
	entries []*flockstate.AuditEntry
}

func (s *auditStore) Append(ctx context.Context, e *flockstate.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e.Clone())
	return nil
}

func (s *auditStore) Query(ctx context.Context, f store.AuditFilter) ([]*flockstate.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*flockstate.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if f.AgentID != "" && e.AgentID != f.AgentID {
			continue
		}
		if f.HomeID != "" && e.HomeID != f.HomeID {
			continue
		}
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		out = append(out, e.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *auditStore) CountByLevel(ctx context.Context, since *time.Time) (map[flockstate.AuditLevel]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[flockstate.AuditLevel]int64{}
	for _, e := range s.entries {
		if since != nil && e.Timestamp.Before(*since) {
			continue
		}
		counts[e.Level]++
	}
	return counts, nil
}

// --- tasks ---

type taskStore struct {
	mu   sync.RWMutex
	byID map[string]*flockstate.TaskRecord
}

func (s *taskStore) Insert(ctx context.Context, t *flockstate.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[t.TaskID] = t.Clone()
	return nil
}

func (s *taskStore) Update(ctx context.Context, t *flockstate.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.TaskID]; !ok {
		return flockerr.New(flockerr.NotFound, "task_not_found", "task "+t.TaskID+" not found")
	}
	s.byID[t.TaskID] = t.Clone()
	return nil
}

func (s *taskStore) Get(ctx context.Context, taskID string) (*flockstate.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[taskID]
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "task_not_found", "task "+taskID+" not found")
	}
	return t.Clone(), nil
}

func (s *taskStore) List(ctx context.Context, f store.TaskFilter) ([]*flockstate.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*flockstate.TaskRecord
	for _, t := range s.byID {
		if f.FromAgentID != "" && t.FromAgentID != f.FromAgentID {
			continue
		}
		if f.ToAgentID != "" && t.ToAgentID != f.ToAgentID {
			continue
		}
		if f.ContextID != "" && t.ContextID != f.ContextID {
			continue
		}
		if f.State != "" && t.State != f.State {
			continue
		}
		if f.Since != nil && t.CreatedAt.Before(*f.Since) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limitSlice(out, f.Limit), nil
}

// --- channels ---

type channelStore struct {
	mu   sync.RWMutex
	byID map[string]*flockstate.Channel
}

func (s *channelStore) Insert(ctx context.Context, c *flockstate.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ChannelID] = c.Clone()
	return nil
}

func (s *channelStore) Update(ctx context.Context, c *flockstate.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ChannelID]; !ok {
		return flockerr.New(flockerr.NotFound, "channel_not_found", "channel "+c.ChannelID+" not found")
	}
	s.byID[c.ChannelID] = c.Clone()
	return nil
}

func (s *channelStore) Get(ctx context.Context, channelID string) (*flockstate.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[channelID]
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "channel_not_found", "channel "+channelID+" not found")
	}
	return c.Clone(), nil
}

func (s *channelStore) ListForMember(ctx context.Context, agentID string) ([]*flockstate.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*flockstate.Channel
	for _, c := range s.byID {
		if c.HasMember(agentID) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *channelStore) Delete(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, channelID)
	return nil
}

// --- channel messages ---

type channelMessageStore struct {
	mu        sync.Mutex
	byChannel map[string][]*flockstate.ChannelMessage
}

// Append assigns the next Seq under the store's single-writer discipline,
// so Seq stays strictly increasing and contiguous per channel.
func (s *channelMessageStore) Append(ctx context.Context, msg *flockstate.ChannelMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.byChannel[msg.ChannelID]
	msg.Seq = int64(len(existing)) + 1
	cp := *msg
	s.byChannel[msg.ChannelID] = append(existing, &cp)
	return nil
}

func (s *channelMessageStore) List(ctx context.Context, f store.ChannelMessageFilter) ([]*flockstate.ChannelMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*flockstate.ChannelMessage
	for _, m := range s.byChannel[f.ChannelID] {
		if m.Seq <= f.SinceSeq {
			continue
		}
		out = append(out, m.Clone())
	}
	return limitSlice(out, f.Limit), nil
}

// --- agent loop ---

type agentLoopStore struct {
	mu      sync.RWMutex
	byAgent map[string]*flockstate.AgentLoopRecord
}

func (s *agentLoopStore) Upsert(ctx context.Context, r *flockstate.AgentLoopRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAgent[r.AgentID] = r.Clone()
	return nil
}

func (s *agentLoopStore) Get(ctx context.Context, agentID string) (*flockstate.AgentLoopRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byAgent[agentID]
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "loop_not_found", "agent loop "+agentID+" not found")
	}
	return r.Clone(), nil
}

func (s *agentLoopStore) ListByState(ctx context.Context, state flockstate.LoopState) ([]*flockstate.AgentLoopRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*flockstate.AgentLoopRecord
	for _, r := range s.byAgent {
		if r.State == state {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// --- bridges ---

type bridgeStore struct {
	mu   sync.RWMutex
	byID map[string]*flockstate.BridgeMapping
}

func (s *bridgeStore) Insert(ctx context.Context, b *flockstate.BridgeMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[b.BridgeID] = b.Clone()
	return nil
}

func (s *bridgeStore) Update(ctx context.Context, b *flockstate.BridgeMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[b.BridgeID]; !ok {
		return flockerr.New(flockerr.NotFound, "bridge_not_found", "bridge "+b.BridgeID+" not found")
	}
	s.byID[b.BridgeID] = b.Clone()
	return nil
}

func (s *bridgeStore) Get(ctx context.Context, bridgeID string) (*flockstate.BridgeMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[bridgeID]
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "bridge_not_found", "bridge "+bridgeID+" not found")
	}
	return b.Clone(), nil
}

func (s *bridgeStore) ListForChannel(ctx context.Context, channelID string) ([]*flockstate.BridgeMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*flockstate.BridgeMapping
	for _, b := range s.byID {
		if b.ChannelID == channelID {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func limitSlice[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
