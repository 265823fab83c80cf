// Package scheduler drives the periodic work loop: AWAKE agents are ticked
// on a fast cadence, REACTIVE agents on a slow one, SLEEP agents skipped
// entirely.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flock-run/flock/pkg/flocklog"
	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/observability"
	"github.com/flock-run/flock/pkg/store"
)

const (
	DefaultAwakeInterval    = 60 * time.Second
	DefaultReactiveInterval = 5 * time.Minute
)

// Ticker is invoked once per agent per tick; it sends the synthetic "tick"
// A2A message and returns an error only for genuine dispatch failures —
// those are logged and retried on the next interval, never surfaced as a
// scheduler failure.
type Ticker func(ctx context.Context, agentID string) error

// Scheduler runs the two cadence loops and coordinates cooperative shutdown.
type Scheduler struct {
	loops            store.AgentLoopStore
	tick             Ticker
	awakeInterval    time.Duration
	reactiveInterval time.Duration
	metrics          *observability.Metrics
	cancel           context.CancelFunc
}

func New(loops store.AgentLoopStore, tick Ticker) *Scheduler {
	return &Scheduler{
		loops:            loops,
		tick:             tick,
		awakeInterval:    DefaultAwakeInterval,
		reactiveInterval: DefaultReactiveInterval,
	}
}

// WithIntervals overrides the default cadences.
func (s *Scheduler) WithIntervals(awake, reactive time.Duration) *Scheduler {
	s.awakeInterval = awake
	s.reactiveInterval = reactive
	return s
}

// WithMetrics attaches a metrics registry; every tick then publishes the
// current agents-by-state gauge alongside ticking. m may be left nil,
// in which case every Record/Set call below is a no-op.
func (s *Scheduler) WithMetrics(m *observability.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Init converges an agent's loop record to the requested state at boot,
// overwriting whatever state a previous run left behind.
func (s *Scheduler) Init(ctx context.Context, agentID string, state flockstate.LoopState) error {
	now := time.Now().UTC()
	rec := &flockstate.AgentLoopRecord{AgentID: agentID, State: state, AwakenedAt: now}
	if existing, err := s.loops.Get(ctx, agentID); err == nil {
		rec.LastTickAt = existing.LastTickAt
	}
	if state == flockstate.LoopSleep {
		rec.SleptAt = &now
	}
	return s.loops.Upsert(ctx, rec)
}

// SetState moves an agent between cadences. Entering SLEEP stamps sleptAt
// and records the reason; entering AWAKE clears sleptAt and stamps
// awakenedAt.
func (s *Scheduler) SetState(ctx context.Context, agentID string, state flockstate.LoopState, reason string) error {
	rec, err := s.loops.Get(ctx, agentID)
	if err != nil {
		rec = &flockstate.AgentLoopRecord{AgentID: agentID}
	}
	now := time.Now().UTC()
	rec.State = state
	switch state {
	case flockstate.LoopSleep:
		rec.SleptAt = &now
		rec.SleepReason = reason
	case flockstate.LoopAwake:
		rec.SleptAt = nil
		rec.SleepReason = ""
		rec.AwakenedAt = now
	}
	return s.loops.Upsert(ctx, rec)
}

// Start launches both cadence loops in the background. Stop is cooperative:
// it ceases further ticks but never interrupts a tick already in flight.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.loop(ctx, flockstate.LoopAwake, s.awakeInterval)
	go s.loop(ctx, flockstate.LoopReactive, s.reactiveInterval)
}

// Stop ceases further ticks.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context, state flockstate.LoopState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.fanOutTick(ctx, state)
		}
	}
}

func (s *Scheduler) fanOutTick(ctx context.Context, state flockstate.LoopState) {
	records, err := s.loops.ListByState(ctx, state)
	if err != nil {
		flocklog.GetLogger().Error("scheduler: list agent loop states failed", "state", state, "error", err)
		return
	}
	s.metrics.SetAgentsByState(string(state), len(records))

	if state == flockstate.LoopAwake {
		if asleep, err := s.loops.ListByState(ctx, flockstate.LoopSleep); err == nil {
			s.metrics.SetAgentsByState(string(flockstate.LoopSleep), len(asleep))
		}
	}

	// Ticks run on a context that Stop does not cancel, so a tick already in
	// flight completes even when Stop is called mid-tick.
	tickCtx := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(tickCtx)
	for _, r := range records {
		agentID := r.AgentID
		g.Go(func() error {
			if err := s.tick(gctx, agentID); err != nil {
				flocklog.GetLogger().Warn("scheduler: tick failed, will retry next interval",
					"agentId", agentID, "error", err)
				return nil
			}
			rec := r.Clone()
			rec.LastTickAt = time.Now().UTC()
			if err := s.loops.Upsert(tickCtx, rec); err != nil {
				flocklog.GetLogger().Error("scheduler: update lastTickAt failed", "agentId", agentID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
