package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/store"
)

type homeStore struct{ s *Store }

func (h *homeStore) Insert(ctx context.Context, home *flockstate.Home) error {
	metaJSON, err := marshalJSON(home.Metadata)
	if err != nil {
		return fmt.Errorf("marshal home metadata: %w", err)
	}
	q := h.s.upsert("homes", "home_id", []string{
		"agent_id", "node_id", "state", "lease_expires_at", "metadata_json", "created_at", "updated_at",
	})
	_, err = h.s.db.ExecContext(ctx, q,
		home.HomeID, home.AgentID, home.NodeID, string(home.State),
		nullTime(home.LeaseExpiresAt), metaJSON, home.CreatedAt, home.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert home %s: %w", home.HomeID, err)
	}
	return nil
}

func (h *homeStore) Update(ctx context.Context, home *flockstate.Home) error {
	metaJSON, err := marshalJSON(home.Metadata)
	if err != nil {
		return fmt.Errorf("marshal home metadata: %w", err)
	}
	q := fmt.Sprintf(`UPDATE homes SET agent_id=%s, node_id=%s, state=%s, lease_expires_at=%s,
		metadata_json=%s, updated_at=%s WHERE home_id=%s`,
		h.s.ph(1), h.s.ph(2), h.s.ph(3), h.s.ph(4), h.s.ph(5), h.s.ph(6), h.s.ph(7))
	res, err := h.s.db.ExecContext(ctx, q,
		home.AgentID, home.NodeID, string(home.State), nullTime(home.LeaseExpiresAt),
		metaJSON, home.UpdatedAt, home.HomeID)
	if err != nil {
		return fmt.Errorf("update home %s: %w", home.HomeID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound("home_not_found", "home "+home.HomeID+" not found")
	}
	return nil
}

func (h *homeStore) Get(ctx context.Context, homeID string) (*flockstate.Home, error) {
	q := fmt.Sprintf(`SELECT home_id, agent_id, node_id, state, lease_expires_at, metadata_json, created_at, updated_at
		FROM homes WHERE home_id=%s`, h.s.ph(1))
	row := h.s.db.QueryRowContext(ctx, q, homeID)
	home, err := scanHome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("home_not_found", "home "+homeID+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get home %s: %w", homeID, err)
	}
	return home, nil
}

func (h *homeStore) GetByAgentNode(ctx context.Context, agentID, nodeID string) (*flockstate.Home, error) {
	return h.Get(ctx, flockstate.MakeHomeID(agentID, nodeID))
}

func (h *homeStore) List(ctx context.Context, f store.HomeFilter) ([]*flockstate.Home, error) {
	var where []string
	var args []any
	n := 1
	if f.NodeID != "" {
		where = append(where, fmt.Sprintf("node_id=%s", h.s.ph(n)))
		args = append(args, f.NodeID)
		n++
	}
	if f.AgentID != "" {
		where = append(where, fmt.Sprintf("agent_id=%s", h.s.ph(n)))
		args = append(args, f.AgentID)
		n++
	}
	if f.State != "" {
		where = append(where, fmt.Sprintf("state=%s", h.s.ph(n)))
		args = append(args, string(f.State))
		n++
	}
	q := "SELECT home_id, agent_id, node_id, state, lease_expires_at, metadata_json, created_at, updated_at FROM homes"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := h.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list homes: %w", err)
	}
	defer rows.Close()

	var out []*flockstate.Home
	for rows.Next() {
		home, err := scanHome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan home row: %w", err)
		}
		out = append(out, home)
	}
	return out, rows.Err()
}

func (h *homeStore) Delete(ctx context.Context, homeID string) error {
	q := fmt.Sprintf("DELETE FROM homes WHERE home_id=%s", h.s.ph(1))
	_, err := h.s.db.ExecContext(ctx, q, homeID)
	if err != nil {
		return fmt.Errorf("delete home %s: %w", homeID, err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for a shared Scan call site.
type scanner interface {
	Scan(dest ...any) error
}

func scanHome(sc scanner) (*flockstate.Home, error) {
	var home flockstate.Home
	var state string
	var lease sql.NullTime
	var metaJSON string
	if err := sc.Scan(&home.HomeID, &home.AgentID, &home.NodeID, &state, &lease, &metaJSON,
		&home.CreatedAt, &home.UpdatedAt); err != nil {
		return nil, err
	}
	home.State = flockstate.HomeState(state)
	if lease.Valid {
		t := lease.Time
		home.LeaseExpiresAt = &t
	}
	home.Metadata = map[string]any{}
	if err := unmarshalJSON(metaJSON, &home.Metadata); err != nil {
		// Corrupt metadata is non-fatal: fall back to an empty map rather
		// than failing the whole row.
		home.Metadata = map[string]any{}
	}
	return &home, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
