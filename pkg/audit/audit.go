// Package audit is the append-only structured event log, consumed by
// dashboards via level counts.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/store"
)

// Log appends and queries AuditEntry rows.
type Log struct {
	store store.AuditStore
}

func NewLog(s store.AuditStore) *Log { return &Log{store: s} }

// Entry is the caller-facing shape for Append; ID and Timestamp are
// assigned by the log itself.
type Entry struct {
	HomeID   string
	AgentID  string
	Action   string
	Level    flockstate.AuditLevel
	Detail   map[string]any
	Result   string
	Duration *time.Duration
}

// Append writes one structured event, stamping ID and Timestamp.
func (l *Log) Append(ctx context.Context, e Entry) (*flockstate.AuditEntry, error) {
	entry := &flockstate.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		HomeID:    e.HomeID,
		AgentID:   e.AgentID,
		Action:    e.Action,
		Level:     e.Level,
		Detail:    e.Detail,
		Result:    e.Result,
		Duration:  e.Duration,
	}
	if err := l.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry for %s/%s: %w", e.AgentID, e.Action, err)
	}
	return entry, nil
}

// Query returns matching entries, newest-first, up to f.Limit.
func (l *Log) Query(ctx context.Context, f store.AuditFilter) ([]*flockstate.AuditEntry, error) {
	return l.store.Query(ctx, f)
}

// CountByLevel tallies entries by level since the given time (nil = all time).
func (l *Log) CountByLevel(ctx context.Context, since *time.Time) (map[flockstate.AuditLevel]int64, error) {
	return l.store.CountByLevel(ctx, since)
}
