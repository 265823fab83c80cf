package transport

import (
	"context"
	"testing"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/migration/snapshot"
)

type stubTransport struct {
	notifyCalls int
}

func (s *stubTransport) NotifyRequest(ctx context.Context, p NotifyRequestParams) (NotifyRequestResult, error) {
	s.notifyCalls++
	return NotifyRequestResult{Accepted: true}, nil
}

func (s *stubTransport) TransferAndVerify(ctx context.Context, p TransferAndVerifyParams) (snapshot.VerifyResult, error) {
	return snapshot.VerifyResult{Verified: true, ComputedChecksum: p.Checksum}, nil
}

func (s *stubTransport) Rehydrate(ctx context.Context, p RehydrateParams) (snapshot.RehydrateResult, error) {
	return snapshot.RehydrateResult{Success: true}, nil
}

var _ Transport = (*stubTransport)(nil)

func TestInProcessRoutesCallsToTheRegisteredHandler(t *testing.T) {
	ip := NewInProcess()
	target := &stubTransport{}
	ip.Register("target-node", target)

	bound := ip.ForNode("target-node")
	result, err := bound.NotifyRequest(context.Background(), NotifyRequestParams{MigrationID: "m1"})
	if err != nil {
		t.Fatalf("NotifyRequest unexpected error: %v", err)
	}
	if !result.Accepted {
		t.Error("expected the stub handler's Accepted=true to propagate")
	}
	if target.notifyCalls != 1 {
		t.Errorf("notifyCalls = %d, want 1", target.notifyCalls)
	}
}

func TestInProcessUnknownNodeReturnsNotFound(t *testing.T) {
	ip := NewInProcess()
	bound := ip.ForNode("ghost-node")

	_, err := bound.NotifyRequest(context.Background(), NotifyRequestParams{MigrationID: "m1"})
	if kind, ok := flockerr.KindOf(err); !ok || kind != flockerr.NotFound {
		t.Errorf("err kind = %v (ok=%v), want NotFound", kind, ok)
	}

	_, err = bound.TransferAndVerify(context.Background(), TransferAndVerifyParams{})
	if kind, ok := flockerr.KindOf(err); !ok || kind != flockerr.NotFound {
		t.Errorf("TransferAndVerify err kind = %v (ok=%v), want NotFound", kind, ok)
	}

	_, err = bound.Rehydrate(context.Background(), RehydrateParams{})
	if kind, ok := flockerr.KindOf(err); !ok || kind != flockerr.NotFound {
		t.Errorf("Rehydrate err kind = %v (ok=%v), want NotFound", kind, ok)
	}
}

func TestInProcessForNodeBindsIndependentlyOfRegistrationOrder(t *testing.T) {
	ip := NewInProcess()
	bound := ip.ForNode("late-node")
	ip.Register("late-node", &stubTransport{})

	if _, err := bound.NotifyRequest(context.Background(), NotifyRequestParams{}); err != nil {
		t.Errorf("binding should resolve the handler at call time, not at ForNode time: %v", err)
	}
}
