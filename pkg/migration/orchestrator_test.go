package migration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/flock-run/flock/pkg/audit"
	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/home"
	"github.com/flock-run/flock/pkg/migration/snapshot"
	"github.com/flock-run/flock/pkg/migration/transport"
	"github.com/flock-run/flock/pkg/registry"
	"github.com/flock-run/flock/pkg/store/memory"
)

// receiverTransport adapts a Receiver (the target-side RPC handler) to the
// transport.Transport interface the orchestrator drives, the way
// pkg/server's JSON-RPC handler adapts it over the wire in production.
type receiverTransport struct {
	receiver       *Receiver
	targetHomePath string
	targetWorkPath string
}

func (r *receiverTransport) NotifyRequest(ctx context.Context, p transport.NotifyRequestParams) (transport.NotifyRequestResult, error) {
	accepted, reason, err := r.receiver.HandleRequest(ctx, p.MigrationID, p.AgentID, p.SourceNode)
	if err != nil {
		return transport.NotifyRequestResult{Accepted: false, Error: reason}, nil
	}
	return transport.NotifyRequestResult{Accepted: accepted, Error: reason}, nil
}

func (r *receiverTransport) TransferAndVerify(ctx context.Context, p transport.TransferAndVerifyParams) (snapshot.VerifyResult, error) {
	result, _, err := r.receiver.HandleTransferAndVerify(ctx, p.MigrationID, p.Archive, p.Checksum)
	return result, err
}

func (r *receiverTransport) Rehydrate(ctx context.Context, p transport.RehydrateParams) (snapshot.RehydrateResult, error) {
	payload := p.Payload
	result := r.receiver.HandleRehydrate(ctx, p.MigrationID, payload, r.targetHomePath, r.targetWorkPath)
	return result, nil
}

var _ transport.Transport = (*receiverTransport)(nil)

func newTestEngine(t *testing.T) (*Engine, *home.Manager, *registry.NodeRegistry) {
	t.Helper()
	st := memory.New()
	homes := home.NewManager(st.Homes(), st.Transitions())
	nodes := registry.NewNodeRegistry()
	auditLog := audit.NewLog(st.Audit())
	tickets := NewTicketStore()
	engine := NewEngine(tickets, homes, nodes, nil, auditLog)
	return engine, homes, nodes
}

func activateHome(t *testing.T, homes *home.Manager, agentID, nodeID string) string {
	t.Helper()
	ctx := context.Background()
	h, err := homes.Create(ctx, agentID, nodeID)
	if err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}
	if _, err := homes.Transition(ctx, h.HomeID, "PROVISIONING", "boot", "test"); err != nil {
		t.Fatalf("transition to PROVISIONING: %v", err)
	}
	if _, err := homes.Transition(ctx, h.HomeID, "IDLE", "ready", "test"); err != nil {
		t.Fatalf("transition to IDLE: %v", err)
	}
	if _, err := homes.Transition(ctx, h.HomeID, "LEASED", "leased", "test"); err != nil {
		t.Fatalf("transition to LEASED: %v", err)
	}
	if _, err := homes.Transition(ctx, h.HomeID, "ACTIVE", "active", "test"); err != nil {
		t.Fatalf("transition to ACTIVE: %v", err)
	}
	return h.HomeID
}

// TestOrchestratorHappyPathMigratesAgentEndToEnd mirrors scenario S1: a
// source home with a populated workspace migrates to a target node, ending
// with the source home RETIRED and the target node owning the agent.
func TestOrchestratorHappyPathMigratesAgentEndToEnd(t *testing.T) {
	ctx := context.Background()
	engine, homes, nodes := newTestEngine(t)
	sourceHomeID := activateHome(t, homes, "worker-1", "source-node")

	if err := nodes.Register(&flockstate.NodeEntry{NodeID: "source-node", A2AEndpoint: "http://source:9000", Status: flockstate.NodeOnline, AgentIDs: []string{"worker-1"}}); err != nil {
		t.Fatalf("Register source node: %v", err)
	}

	root := t.TempDir()
	homePath := filepath.Join(root, "source-home")
	if err := os.MkdirAll(homePath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(homePath, "SOUL.md"), []byte("I am worker-1"), 0o644); err != nil {
		t.Fatal(err)
	}

	targetHomePath := filepath.Join(root, "target-home")
	targetWorkPath := filepath.Join(root, "target-work")
	tmpDir := filepath.Join(root, "tmp")

	targetTickets := NewTicketStore()
	receiver := NewReceiver(targetTickets, filepath.Join(tmpDir, "target-staging"))
	rt := &receiverTransport{receiver: receiver, targetHomePath: targetHomePath, targetWorkPath: targetWorkPath}

	orch := NewOrchestrator(engine)
	result := orch.Run(ctx, rt, RunParams{
		AgentID: "worker-1",
		Source:  Endpoint{NodeID: "source-node", HomeID: sourceHomeID, Endpoint: "http://source:9000"},
		Target:  Endpoint{NodeID: "target-node", HomeID: "worker-1@target-node", Endpoint: "http://target:9000"},
		Reason:  ReasonAgentRequest,

		HomePath:       homePath,
		TmpDir:         tmpDir,
		TargetHomePath: targetHomePath,
		TargetWorkPath: targetWorkPath,
	})

	if !result.Success {
		t.Fatalf("Run failed: %+v", result)
	}
	if result.FinalPhase != PhaseCompleted {
		t.Errorf("FinalPhase = %s, want COMPLETED", result.FinalPhase)
	}

	srcHome, err := homes.Get(ctx, sourceHomeID)
	if err != nil {
		t.Fatalf("Get source home: %v", err)
	}
	if srcHome.State != "RETIRED" {
		t.Errorf("source home state = %s, want RETIRED", srcHome.State)
	}

	if _, found := nodes.FindNodeForAgent("worker-1"); !found {
		t.Fatal("expected worker-1 to be registered under target-node after completion")
	}
	srcNode, _ := nodes.Get("source-node")
	if srcNode.HasAgent("worker-1") {
		t.Error("source node should no longer list worker-1 after migration completes")
	}

	soul := filepath.Join(targetHomePath, "SOUL.md")
	data, err := os.ReadFile(soul)
	if err != nil {
		t.Fatalf("target home should contain SOUL.md: %v", err)
	}
	if string(data) != "I am worker-1" {
		t.Errorf("SOUL.md content = %q, want byte-identical copy", string(data))
	}
}

// TestOrchestratorRollsBackOnVerificationFailure mirrors scenario S2: a
// checksum mismatch on the target rolls the source home back to LEASED and
// leaves no active migration ticket.
func TestOrchestratorRollsBackOnVerificationFailure(t *testing.T) {
	ctx := context.Background()
	engine, homes, nodes := newTestEngine(t)
	sourceHomeID := activateHome(t, homes, "worker-1", "source-node")
	if err := nodes.Register(&flockstate.NodeEntry{NodeID: "source-node", A2AEndpoint: "http://source:9000", Status: flockstate.NodeOnline, AgentIDs: []string{"worker-1"}}); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	homePath := filepath.Join(root, "source-home")
	if err := os.MkdirAll(homePath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(homePath, "SOUL.md"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	orch := NewOrchestrator(engine)
	result := orch.Run(ctx, &failingVerifyTransport{}, RunParams{
		AgentID:        "worker-1",
		Source:         Endpoint{NodeID: "source-node", HomeID: sourceHomeID, Endpoint: "http://source:9000"},
		Target:         Endpoint{NodeID: "target-node", HomeID: "worker-1@target-node", Endpoint: "http://target:9000"},
		Reason:         ReasonAgentRequest,
		HomePath:       homePath,
		TmpDir:         filepath.Join(root, "tmp"),
		TargetHomePath: filepath.Join(root, "target-home"),
		TargetWorkPath: filepath.Join(root, "target-work"),
	})

	if result.Success {
		t.Fatal("Run should report failure on a checksum mismatch")
	}
	if result.FinalPhase != PhaseAborted {
		t.Errorf("FinalPhase = %s, want ABORTED", result.FinalPhase)
	}

	srcHome, err := homes.Get(ctx, sourceHomeID)
	if err != nil {
		t.Fatal(err)
	}
	if srcHome.State != "LEASED" {
		t.Errorf("source home state = %s, want LEASED after rollback", srcHome.State)
	}

	if len(engine.ListActive(ctx)) != 0 {
		t.Error("no active migrations should remain after rollback")
	}
}

type failingVerifyTransport struct{}

func (failingVerifyTransport) NotifyRequest(ctx context.Context, p transport.NotifyRequestParams) (transport.NotifyRequestResult, error) {
	return transport.NotifyRequestResult{Accepted: true}, nil
}

func (failingVerifyTransport) TransferAndVerify(ctx context.Context, p transport.TransferAndVerifyParams) (snapshot.VerifyResult, error) {
	return snapshot.VerifyResult{Verified: false, FailureReason: snapshot.FailureChecksumMismatch}, nil
}

func (failingVerifyTransport) Rehydrate(ctx context.Context, p transport.RehydrateParams) (snapshot.RehydrateResult, error) {
	return snapshot.RehydrateResult{}, nil
}

var _ transport.Transport = failingVerifyTransport{}
