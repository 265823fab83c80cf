package transport

import (
	"context"
	"sync"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/migration/snapshot"
)

// InProcess dispatches migration calls directly to a registered target
// node's Transport implementation, used by tests and by single-process
// multi-node topologies where no real network hop is needed.
type InProcess struct {
	mu       sync.RWMutex
	handlers map[string]Transport
}

// NewInProcess constructs an empty registry; nodes register via Register.
func NewInProcess() *InProcess {
	return &InProcess{handlers: make(map[string]Transport)}
}

// Register associates nodeID with the Transport implementation that should
// receive calls addressed to it — typically a thin adapter around the
// target's own migration engine and snapshot package calls.
func (ip *InProcess) Register(nodeID string, handler Transport) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.handlers[nodeID] = handler
}

func (ip *InProcess) lookup(nodeID string) (Transport, error) {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	h, ok := ip.handlers[nodeID]
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "unknown_target_node", "no in-process handler registered for node "+nodeID)
	}
	return h, nil
}

// ForNode returns a Transport bound to targetNode, suitable for passing to
// the orchestrator for one migration's lifetime.
func (ip *InProcess) ForNode(targetNode string) Transport {
	return &boundInProcess{registry: ip, targetNode: targetNode}
}

type boundInProcess struct {
	registry   *InProcess
	targetNode string
}

func (b *boundInProcess) NotifyRequest(ctx context.Context, params NotifyRequestParams) (NotifyRequestResult, error) {
	h, err := b.registry.lookup(b.targetNode)
	if err != nil {
		return NotifyRequestResult{}, err
	}
	return h.NotifyRequest(ctx, params)
}

func (b *boundInProcess) TransferAndVerify(ctx context.Context, params TransferAndVerifyParams) (snapshot.VerifyResult, error) {
	h, err := b.registry.lookup(b.targetNode)
	if err != nil {
		return snapshot.VerifyResult{}, err
	}
	return h.TransferAndVerify(ctx, params)
}

func (b *boundInProcess) Rehydrate(ctx context.Context, params RehydrateParams) (snapshot.RehydrateResult, error) {
	h, err := b.registry.lookup(b.targetNode)
	if err != nil {
		return snapshot.RehydrateResult{}, err
	}
	return h.Rehydrate(ctx, params)
}
