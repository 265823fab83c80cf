package registry

import (
	"fmt"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/flock-run/flock/pkg/flockstate"
)

// ConsulBackend mirrors node liveness into a Consul service catalog so that
// node discovery can span a real multi-host deployment instead of living
// only in this process's memory. It wraps a *NodeRegistry: Register writes
// to both the local registry and Consul, and Sync pulls healthy Consul
// instances into the local registry when called. Reads go through the
// in-memory registry; status changes made on it are not pushed to Consul,
// and ConsulBackend never calls Sync on its own.
type ConsulBackend struct {
	registry *NodeRegistry
	client   *consulapi.Client
	service  string
}

// NewConsulBackend dials Consul at addr (empty uses the agent default,
// typically 127.0.0.1:8500) and wraps registry for the named service.
func NewConsulBackend(registry *NodeRegistry, addr, service string) (*ConsulBackend, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("dial consul at %q: %w", addr, err)
	}
	return &ConsulBackend{registry: registry, client: client, service: service}, nil
}

// Register both upserts the local registry and registers the node with the
// Consul agent as a service instance tagged with its liveness status.
func (c *ConsulBackend) Register(entry *flockstate.NodeEntry) error {
	if err := c.registry.Register(entry); err != nil {
		return err
	}
	reg := &consulapi.AgentServiceRegistration{
		ID:      c.service + "-" + entry.NodeID,
		Name:    c.service,
		Address: entry.A2AEndpoint,
		Tags:    []string{"flock-node", string(entry.Status)},
		Meta:    map[string]string{"nodeId": entry.NodeID, "agentCount": strconv.Itoa(len(entry.AgentIDs))},
	}
	if err := c.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("register node %s with consul: %w", entry.NodeID, err)
	}
	return nil
}

// Sync pulls healthy service instances from Consul and upserts any node the
// local registry doesn't already know about, filling the discovery gap a
// single-process NodeRegistry has across a real multi-host deployment.
func (c *ConsulBackend) Sync() error {
	entries, _, err := c.client.Health().Service(c.service, "", true, nil)
	if err != nil {
		return fmt.Errorf("query consul for service %s: %w", c.service, err)
	}
	for _, e := range entries {
		nodeID := e.Service.Meta["nodeId"]
		if nodeID == "" {
			continue
		}
		if _, ok := c.registry.Get(nodeID); ok {
			continue
		}
		_ = c.registry.Register(&flockstate.NodeEntry{
			NodeID:      nodeID,
			A2AEndpoint: e.Service.Address,
			Status:      flockstate.NodeOnline,
		})
	}
	return nil
}

// Deregister removes the node from both the local registry and Consul.
func (c *ConsulBackend) Deregister(nodeID string) error {
	if err := c.client.Agent().ServiceDeregister(c.service + "-" + nodeID); err != nil {
		return fmt.Errorf("deregister node %s from consul: %w", nodeID, err)
	}
	return c.registry.base.Remove(nodeID)
}
