package audit

import (
	"context"
	"testing"

	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/store"
	"github.com/flock-run/flock/pkg/store/memory"
)

func TestLogAppendStampsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	log := NewLog(st.Audit())

	entry, err := log.Append(ctx, Entry{
		AgentID: "worker-1",
		Action:  "a2a-message",
		Level:   flockstate.AuditGreen,
	})
	if err != nil {
		t.Fatalf("Append unexpected error: %v", err)
	}
	if entry.ID == "" {
		t.Error("ID should be assigned by Append")
	}
	if entry.Timestamp.IsZero() {
		t.Error("Timestamp should be assigned by Append")
	}
}

func TestLogQueryReturnsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	log := NewLog(st.Audit())

	for _, action := range []string{"first", "second", "third"} {
		if _, err := log.Append(ctx, Entry{AgentID: "worker-1", Action: action, Level: flockstate.AuditGreen}); err != nil {
			t.Fatalf("Append(%s) unexpected error: %v", action, err)
		}
	}

	entries, err := log.Query(ctx, store.AuditFilter{AgentID: "worker-1"})
	if err != nil {
		t.Fatalf("Query unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0].Action != "third" || entries[2].Action != "first" {
		t.Errorf("entries not newest-first: %+v", entries)
	}
}

func TestLogCountByLevel(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	log := NewLog(st.Audit())

	levels := []flockstate.AuditLevel{flockstate.AuditGreen, flockstate.AuditGreen, flockstate.AuditRed}
	for _, lvl := range levels {
		if _, err := log.Append(ctx, Entry{AgentID: "worker-1", Action: "x", Level: lvl}); err != nil {
			t.Fatalf("Append unexpected error: %v", err)
		}
	}

	counts, err := log.CountByLevel(ctx, nil)
	if err != nil {
		t.Fatalf("CountByLevel unexpected error: %v", err)
	}
	if counts[flockstate.AuditGreen] != 2 {
		t.Errorf("GREEN count = %d, want 2", counts[flockstate.AuditGreen])
	}
	if counts[flockstate.AuditRed] != 1 {
		t.Errorf("RED count = %d, want 1", counts[flockstate.AuditRed])
	}
}
