package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/store"
)

type transitionStore struct{ s *Store }

func (t *transitionStore) Append(ctx context.Context, tr *flockstate.HomeTransition) error {
	q := fmt.Sprintf(`INSERT INTO home_transitions (home_id, from_state, to_state, reason, triggered_by, timestamp)
		VALUES (%s, %s, %s, %s, %s, %s)`, t.s.ph(1), t.s.ph(2), t.s.ph(3), t.s.ph(4), t.s.ph(5), t.s.ph(6))
	_, err := t.s.db.ExecContext(ctx, q, tr.HomeID, string(tr.FromState), string(tr.ToState),
		tr.Reason, tr.TriggeredBy, tr.Timestamp)
	if err != nil {
		return fmt.Errorf("append transition for home %s: %w", tr.HomeID, err)
	}
	return nil
}

func (t *transitionStore) List(ctx context.Context, f store.TransitionFilter) ([]*flockstate.HomeTransition, error) {
	var where []string
	var args []any
	n := 1
	if f.HomeID != "" {
		where = append(where, fmt.Sprintf("home_id=%s", t.s.ph(n)))
		args = append(args, f.HomeID)
		n++
	}
	if f.Since != nil {
		where = append(where, fmt.Sprintf("timestamp>=%s", t.s.ph(n)))
		args = append(args, *f.Since)
		n++
	}
	q := "SELECT home_id, from_state, to_state, reason, triggered_by, timestamp FROM home_transitions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp ASC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := t.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []*flockstate.HomeTransition
	for rows.Next() {
		var tr flockstate.HomeTransition
		var from, to string
		if err := rows.Scan(&tr.HomeID, &from, &to, &tr.Reason, &tr.TriggeredBy, &tr.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		tr.FromState = flockstate.HomeState(from)
		tr.ToState = flockstate.HomeState(to)
		out = append(out, &tr)
	}
	return out, rows.Err()
}

type auditStore struct{ s *Store }

func (a *auditStore) Append(ctx context.Context, e *flockstate.AuditEntry) error {
	detailJSON, err := marshalJSON(e.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	var durationNs any
	if e.Duration != nil {
		durationNs = e.Duration.Nanoseconds()
	}
	q := fmt.Sprintf(`INSERT INTO audit_entries (id, timestamp, home_id, agent_id, action, level, detail_json, result, duration_ns)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		a.s.ph(1), a.s.ph(2), a.s.ph(3), a.s.ph(4), a.s.ph(5), a.s.ph(6), a.s.ph(7), a.s.ph(8), a.s.ph(9))
	_, err = a.s.db.ExecContext(ctx, q, e.ID, e.Timestamp, e.HomeID, e.AgentID, e.Action,
		string(e.Level), detailJSON, e.Result, durationNs)
	if err != nil {
		return fmt.Errorf("append audit entry %s: %w", e.ID, err)
	}
	return nil
}

func (a *auditStore) Query(ctx context.Context, f store.AuditFilter) ([]*flockstate.AuditEntry, error) {
	var where []string
	var args []any
	n := 1
	if f.AgentID != "" {
		where = append(where, fmt.Sprintf("agent_id=%s", a.s.ph(n)))
		args = append(args, f.AgentID)
		n++
	}
	if f.HomeID != "" {
		where = append(where, fmt.Sprintf("home_id=%s", a.s.ph(n)))
		args = append(args, f.HomeID)
		n++
	}
	if f.Level != "" {
		where = append(where, fmt.Sprintf("level=%s", a.s.ph(n)))
		args = append(args, string(f.Level))
		n++
	}
	if f.Since != nil {
		where = append(where, fmt.Sprintf("timestamp>=%s", a.s.ph(n)))
		args = append(args, *f.Since)
		n++
	}
	q := "SELECT id, timestamp, home_id, agent_id, action, level, detail_json, result, duration_ns FROM audit_entries"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := a.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []*flockstate.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (a *auditStore) CountByLevel(ctx context.Context, since *time.Time) (map[flockstate.AuditLevel]int64, error) {
	q := "SELECT level, COUNT(*) FROM audit_entries"
	var args []any
	if since != nil {
		q += fmt.Sprintf(" WHERE timestamp>=%s", a.s.ph(1))
		args = append(args, *since)
	}
	q += " GROUP BY level"

	rows, err := a.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("count audit entries by level: %w", err)
	}
	defer rows.Close()

	out := map[flockstate.AuditLevel]int64{}
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scan level count row: %w", err)
		}
		out[flockstate.AuditLevel(level)] = count
	}
	return out, rows.Err()
}

func scanAudit(sc scanner) (*flockstate.AuditEntry, error) {
	var e flockstate.AuditEntry
	var level string
	var detailJSON string
	var durationNs sql.NullInt64
	var homeID, result sql.NullString
	if err := sc.Scan(&e.ID, &e.Timestamp, &homeID, &e.AgentID, &e.Action, &level, &detailJSON, &result, &durationNs); err != nil {
		return nil, err
	}
	e.Level = flockstate.AuditLevel(level)
	e.HomeID = homeID.String
	e.Result = result.String
	e.Detail = map[string]any{}
	if err := unmarshalJSON(detailJSON, &e.Detail); err != nil {
		e.Detail = map[string]any{}
	}
	if durationNs.Valid {
		d := time.Duration(durationNs.Int64)
		e.Duration = &d
	}
	return &e, nil
}
