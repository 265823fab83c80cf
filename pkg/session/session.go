// Package session models the external LLM session layer as a narrow
// contract the executor depends on. The actual LLM provider call is out
// of scope; Stub is a deterministic implementation for running the
// module and for tests.
package session

import (
	"context"
	"fmt"
	"sync"
)

// ThinkingLevel mirrors the closed set a provider config may request.
type ThinkingLevel string

const (
	ThinkingOff  ThinkingLevel = "off"
	ThinkingLow  ThinkingLevel = "low"
	ThinkingHigh ThinkingLevel = "high"
)

// Config is the per-call session configuration the executor assembles.
type Config struct {
	Model              string
	SystemPrompt       string
	Tools              []string
	ThinkingLevel      ThinkingLevel
	GetAPIKey          func() (string, error)
	MaxContextMessages int
}

// Event is a side-effect notification surfaced alongside the reply (e.g. a
// tool invocation); the executor may translate these into artifacts.
type Event struct {
	Kind string
	Data map[string]any
}

// Reply is what Send returns: assistant text (nil if the session produced
// no user-visible text this turn) plus any events.
type Reply struct {
	Text   *string
	Events []Event
}

// Session is the contract the executor depends on. Implementations
// maintain per-agent state (message history, model, tools) across calls.
type Session interface {
	Send(ctx context.Context, agentID, message string, cfg Config) (*Reply, error)
}

type historyEntry struct {
	role string
	text string
}

// Stub is a deterministic Session: it echoes the inbound message with a
// fixed prefix and maintains per-agent history with context trimming, so
// callers can exercise the executor's full request/response shape without
// a real LLM provider wired in.
type Stub struct {
	mu      sync.Mutex
	history map[string][]historyEntry
}

func NewStub() *Stub {
	return &Stub{history: make(map[string][]historyEntry)}
}

func (s *Stub) Send(ctx context.Context, agentID, message string, cfg Config) (*Reply, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[agentID], historyEntry{role: "user", text: message})
	reply := fmt.Sprintf("[%s] acknowledged: %s", agentID, message)
	h = append(h, historyEntry{role: "assistant", text: reply})

	if cfg.MaxContextMessages > 0 && len(h) > cfg.MaxContextMessages {
		h = h[len(h)-cfg.MaxContextMessages:]
	}
	s.history[agentID] = h

	return &Reply{Text: &reply}, nil
}

var _ Session = (*Stub)(nil)
