package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/flockstate"
)

// EtcdAssignmentStore backs AssignmentStore with etcd so a centrally
// deployed, multi-process topology shares one source of truth for which
// node logically owns each agent, rather than each process's own map
// drifting out of sync.
type EtcdAssignmentStore struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdAssignmentStore wires an AssignmentStore onto an existing etcd
// client, namespacing all keys under prefix (e.g. "/flock/assignments/").
func NewEtcdAssignmentStore(client *clientv3.Client, prefix string) *EtcdAssignmentStore {
	return &EtcdAssignmentStore{client: client, prefix: prefix}
}

func (s *EtcdAssignmentStore) key(agentID string) string { return s.prefix + agentID }

func (s *EtcdAssignmentStore) Assign(agentID, nodeID, portablePath string) error {
	a := &flockstate.AgentAssignment{AgentID: agentID, NodeID: nodeID, PortablePath: portablePath}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assignment for %s: %w", agentID, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.client.Put(ctx, s.key(agentID), string(b)); err != nil {
		return fmt.Errorf("put assignment for %s: %w", agentID, err)
	}
	return nil
}

func (s *EtcdAssignmentStore) Get(agentID string) (*flockstate.AgentAssignment, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := s.client.Get(ctx, s.key(agentID))
	if err != nil || len(resp.Kvs) == 0 {
		return nil, false
	}
	var a flockstate.AgentAssignment
	if err := json.Unmarshal(resp.Kvs[0].Value, &a); err != nil {
		return nil, false
	}
	return &a, true
}

func (s *EtcdAssignmentStore) Reassign(agentID, newNodeID string) error {
	a, ok := s.Get(agentID)
	if !ok {
		return flockerr.New(flockerr.NotFound, "assignment_not_found", "no assignment for agent "+agentID)
	}
	return s.Assign(agentID, newNodeID, a.PortablePath)
}

func (s *EtcdAssignmentStore) List() []*flockstate.AgentAssignment {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil
	}
	out := make([]*flockstate.AgentAssignment, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var a flockstate.AgentAssignment
		if err := json.Unmarshal(kv.Value, &a); err == nil {
			out = append(out, &a)
		}
	}
	return out
}

var _ AssignmentStore = (*EtcdAssignmentStore)(nil)
