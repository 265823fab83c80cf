// Package client is Flock's outbound A2A dispatcher: given an agent id it
// asks a resolver.Resolver where that agent lives and either hands the
// message to a LocalDispatcher for agents on this node or talks to the
// remote node's A2A surface over the real a2a-go wire client, following
// the card resolution + a2aclient.NewFromCard pattern and the
// SendMessage → TaskInfo → GetTask chase used elsewhere for remote A2A
// calls.
//
// Flock agents are frequently co-located, so Client adds a local/remote
// branch on top of the resolver fabric (pkg/resolver) this module
// already carries.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/resolver"
)

// LocalDispatcher delivers a message to an agent hosted on this node.
// pkg/boot's selfDispatcher implements it over the node's own loopback A2A
// HTTP surface; Client only depends on the interface so
// this package has no dependency on executor internals.
type LocalDispatcher interface {
	Dispatch(ctx context.Context, agentID string, msg *a2a.Message) (*a2a.Task, error)
}

// Client is the single outbound A2A entry point every Flock component uses
// to reach another agent, local or remote.
type Client struct {
	resolver resolver.Resolver
	local    LocalDispatcher

	mu      sync.Mutex
	remotes map[string]*a2aclient.Client
}

func New(r resolver.Resolver, local LocalDispatcher) *Client {
	return &Client{
		resolver: r,
		local:    local,
		remotes:  make(map[string]*a2aclient.Client),
	}
}

// Send resolves agentID and delivers msg, dispatching locally or over A2A
// depending on the resolution.
func (c *Client) Send(ctx context.Context, agentID string, msg *a2a.Message) (*a2a.Task, error) {
	res, err := c.resolver.Resolve(agentID)
	if err != nil {
		return nil, flockerr.Wrap(flockerr.NotFound, "a2a_client_resolve", "failed to resolve agent "+agentID, err)
	}

	if res.Local {
		return c.local.Dispatch(ctx, agentID, msg)
	}

	remote, err := c.remoteFor(ctx, res.Endpoint, agentID)
	if err != nil {
		return nil, err
	}

	result, err := remote.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return nil, flockerr.Wrap(flockerr.NetworkTimeout, "a2a_client_send", "message send to "+agentID+" failed", err)
	}

	taskInfo := result.TaskInfo()
	if taskInfo.TaskID == "" {
		return nil, flockerr.New(flockerr.Internal, "a2a_client_send", "remote agent "+agentID+" returned no task id")
	}
	task, err := remote.GetTask(ctx, &a2a.TaskQueryParams{ID: taskInfo.TaskID})
	if err != nil {
		return nil, flockerr.Wrap(flockerr.NetworkTimeout, "a2a_client_get_task", "failed to fetch task result from "+agentID, err)
	}
	return task, nil
}

// Card fetches the agent card for agentID, local or remote. A local agent's
// card is served by this node's own directory rather than over HTTP, so
// callers needing it should prefer pkg/a2a's CardEntry directory instead;
// Card exists for the remote case A2AEndpoint routing requires.
func (c *Client) Card(ctx context.Context, agentID string) (*a2a.AgentCard, error) {
	res, err := c.resolver.Resolve(agentID)
	if err != nil {
		return nil, flockerr.Wrap(flockerr.NotFound, "a2a_client_card_resolve", "failed to resolve agent "+agentID, err)
	}
	if res.Local {
		return nil, flockerr.New(flockerr.Validation, "a2a_client_card", "agent "+agentID+" is local; fetch its card from the directory instead")
	}
	remote, err := c.remoteFor(ctx, res.Endpoint, agentID)
	if err != nil {
		return nil, err
	}
	return remote.GetAgentCard(ctx)
}

// remoteFor returns a cached a2aclient.Client for (endpoint, agentID),
// constructing and resolving its agent card on first use.
func (c *Client) remoteFor(ctx context.Context, endpoint, agentID string) (*a2aclient.Client, error) {
	key := endpoint + "/" + agentID

	c.mu.Lock()
	if existing, ok := c.remotes[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	// The card resolver appends the well-known card path to the agent's
	// base URL itself.
	agentURL := strings.TrimSuffix(endpoint, "/") + "/a2a/" + agentID
	card, err := agentcard.DefaultResolver.Resolve(ctx, agentURL)
	if err != nil {
		return nil, flockerr.Wrap(flockerr.NetworkTimeout, "a2a_client_card_fetch", fmt.Sprintf("failed to resolve agent card for %s at %s", agentID, agentURL), err)
	}

	remote, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, flockerr.Wrap(flockerr.NetworkTimeout, "a2a_client_new", "failed to create a2a client for "+agentID, err)
	}

	c.mu.Lock()
	if existing, ok := c.remotes[key]; ok {
		c.mu.Unlock()
		_ = remote.Destroy()
		return existing, nil
	}
	c.remotes[key] = remote
	c.mu.Unlock()

	return remote, nil
}

// Close tears down every cached remote client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for key, remote := range c.remotes {
		if err := remote.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.remotes, key)
	}
	return firstErr
}
