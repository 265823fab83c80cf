// Package triage implements the sysadmin decision capture table: a
// structured tool result the LLM session emits, keyed by requestId, with
// a background sweep evicting stale entries.
package triage

import (
	"context"
	"sync"
	"time"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/flockstate"
)

const defaultTTL = 5 * time.Minute

// Decision is the structured triage tool call captured from the LLM.
type Decision struct {
	RequestID   string
	Level       flockstate.AuditLevel
	Reasoning   string
	ActionPlan  string
	RiskFactors []string
	capturedAt  time.Time
}

// Table is the process-wide capture table. The server must not rely on
// expiration for correctness: a missing entry on Pop is always WHITE.
type Table struct {
	mu      sync.Mutex
	entries map[string]Decision
	ttl     time.Duration
}

func NewTable() *Table {
	return &Table{entries: make(map[string]Decision), ttl: defaultTTL}
}

// Capture stores a decision, stamping its capture time for the TTL sweep.
func (t *Table) Capture(requestID string, d Decision) {
	d.RequestID = requestID
	d.capturedAt = time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[requestID] = d
}

// Pop removes and returns the decision for requestID, if present and not
// yet expired. A missing or expired entry means WHITE — callers treat the
// zero-value/false return as "no triage needed", never as an error.
func (t *Table) Pop(requestID string) (Decision, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.entries[requestID]
	delete(t.entries, requestID)
	if !ok {
		return Decision{}, false
	}
	if time.Since(d.capturedAt) > t.ttl {
		return Decision{}, false
	}
	return d, true
}

// RunSweep evicts entries older than the TTL every interval until ctx is
// canceled. It is a correctness backstop, not a dependency: Pop already
// treats expired entries as absent.
func (t *Table) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Table) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	for id, d := range t.entries {
		if now.Sub(d.capturedAt) > t.ttl {
			delete(t.entries, id)
		}
	}
}

// ToolName is the identifier the session layer exposes the triage tool
// under in a sysadmin agent's tool list.
const ToolName = "flock_triage"

// HandleToolCall is the tool entry point the LLM session layer invokes:
// it validates the structured parameters, captures the decision, and
// returns the acknowledgement text handed back to the model.
func (t *Table) HandleToolCall(params map[string]any) (string, error) {
	requestID, _ := params["request_id"].(string)
	if requestID == "" {
		return "", flockerr.New(flockerr.Validation, "triage_missing_request_id", "triage tool call requires a request_id")
	}

	levelStr, _ := params["level"].(string)
	level := flockstate.AuditLevel(levelStr)
	switch level {
	case flockstate.AuditGreen, flockstate.AuditYellow, flockstate.AuditRed:
	default:
		return "", flockerr.New(flockerr.Validation, "triage_bad_level",
			"triage level must be GREEN, YELLOW, or RED, got "+levelStr)
	}

	d := Decision{
		Level:      level,
		Reasoning:  stringParam(params, "reasoning"),
		ActionPlan: stringParam(params, "action_plan"),
	}
	if raw, ok := params["risk_factors"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				d.RiskFactors = append(d.RiskFactors, s)
			}
		}
	}
	t.Capture(requestID, d)
	return "triage decision recorded for request " + requestID, nil
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
