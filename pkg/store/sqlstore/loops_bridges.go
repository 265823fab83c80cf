package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flock-run/flock/pkg/flockstate"
)

type agentLoopStore struct{ s *Store }

func (a *agentLoopStore) Upsert(ctx context.Context, r *flockstate.AgentLoopRecord) error {
	q := a.s.upsert("agent_loop_states", "agent_id", []string{
		"state", "last_tick_at", "awakened_at", "slept_at", "sleep_reason",
	})
	_, err := a.s.db.ExecContext(ctx, q, r.AgentID, string(r.State), r.LastTickAt, r.AwakenedAt,
		nullTime(r.SleptAt), r.SleepReason)
	if err != nil {
		return fmt.Errorf("upsert agent loop state %s: %w", r.AgentID, err)
	}
	return nil
}

func (a *agentLoopStore) Get(ctx context.Context, agentID string) (*flockstate.AgentLoopRecord, error) {
	q := fmt.Sprintf(`SELECT agent_id, state, last_tick_at, awakened_at, slept_at, sleep_reason
		FROM agent_loop_states WHERE agent_id=%s`, a.s.ph(1))
	row := a.s.db.QueryRowContext(ctx, q, agentID)
	r, err := scanAgentLoop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("agent_loop_not_found", "agent loop state for "+agentID+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get agent loop state %s: %w", agentID, err)
	}
	return r, nil
}

func (a *agentLoopStore) ListByState(ctx context.Context, state flockstate.LoopState) ([]*flockstate.AgentLoopRecord, error) {
	q := fmt.Sprintf(`SELECT agent_id, state, last_tick_at, awakened_at, slept_at, sleep_reason
		FROM agent_loop_states WHERE state=%s`, a.s.ph(1))
	rows, err := a.s.db.QueryContext(ctx, q, string(state))
	if err != nil {
		return nil, fmt.Errorf("list agent loop states by %s: %w", state, err)
	}
	defer rows.Close()

	var out []*flockstate.AgentLoopRecord
	for rows.Next() {
		r, err := scanAgentLoop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent loop row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanAgentLoop(sc scanner) (*flockstate.AgentLoopRecord, error) {
	var r flockstate.AgentLoopRecord
	var state string
	var slept sql.NullTime
	var sleepReason sql.NullString
	if err := sc.Scan(&r.AgentID, &state, &r.LastTickAt, &r.AwakenedAt, &slept, &sleepReason); err != nil {
		return nil, err
	}
	r.State = flockstate.LoopState(state)
	if !r.State.Valid() {
		// Unrecognized persisted state: treat as AWAKE rather than failing
		// the read.
		r.State = flockstate.LoopAwake
	}
	if slept.Valid {
		t := slept.Time
		r.SleptAt = &t
	}
	r.SleepReason = sleepReason.String
	return &r, nil
}

type bridgeStore struct{ s *Store }

func (b *bridgeStore) Insert(ctx context.Context, m *flockstate.BridgeMapping) error {
	q := fmt.Sprintf(`INSERT INTO bridges (bridge_id, channel_id, platform, external_channel_id, webhook_url, active)
		VALUES (%s, %s, %s, %s, %s, %s)`, b.s.ph(1), b.s.ph(2), b.s.ph(3), b.s.ph(4), b.s.ph(5), b.s.ph(6))
	_, err := b.s.db.ExecContext(ctx, q, m.BridgeID, m.ChannelID, m.Platform, m.ExternalChannelID, m.WebhookURL, m.Active)
	if err != nil {
		return fmt.Errorf("insert bridge %s: %w", m.BridgeID, err)
	}
	return nil
}

func (b *bridgeStore) Update(ctx context.Context, m *flockstate.BridgeMapping) error {
	q := fmt.Sprintf(`UPDATE bridges SET channel_id=%s, platform=%s, external_channel_id=%s, webhook_url=%s,
		active=%s WHERE bridge_id=%s`, b.s.ph(1), b.s.ph(2), b.s.ph(3), b.s.ph(4), b.s.ph(5), b.s.ph(6))
	res, err := b.s.db.ExecContext(ctx, q, m.ChannelID, m.Platform, m.ExternalChannelID, m.WebhookURL, m.Active, m.BridgeID)
	if err != nil {
		return fmt.Errorf("update bridge %s: %w", m.BridgeID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound("bridge_not_found", "bridge "+m.BridgeID+" not found")
	}
	return nil
}

func (b *bridgeStore) Get(ctx context.Context, bridgeID string) (*flockstate.BridgeMapping, error) {
	q := fmt.Sprintf(`SELECT bridge_id, channel_id, platform, external_channel_id, webhook_url, active
		FROM bridges WHERE bridge_id=%s`, b.s.ph(1))
	row := b.s.db.QueryRowContext(ctx, q, bridgeID)
	m, err := scanBridge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("bridge_not_found", "bridge "+bridgeID+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get bridge %s: %w", bridgeID, err)
	}
	return m, nil
}

func (b *bridgeStore) ListForChannel(ctx context.Context, channelID string) ([]*flockstate.BridgeMapping, error) {
	q := fmt.Sprintf(`SELECT bridge_id, channel_id, platform, external_channel_id, webhook_url, active
		FROM bridges WHERE channel_id=%s`, b.s.ph(1))
	rows, err := b.s.db.QueryContext(ctx, q, channelID)
	if err != nil {
		return nil, fmt.Errorf("list bridges for channel %s: %w", channelID, err)
	}
	defer rows.Close()

	var out []*flockstate.BridgeMapping
	for rows.Next() {
		m, err := scanBridge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bridge row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanBridge(sc scanner) (*flockstate.BridgeMapping, error) {
	var m flockstate.BridgeMapping
	var webhook sql.NullString
	if err := sc.Scan(&m.BridgeID, &m.ChannelID, &m.Platform, &m.ExternalChannelID, &webhook, &m.Active); err != nil {
		return nil, err
	}
	m.WebhookURL = webhook.String
	return &m, nil
}
