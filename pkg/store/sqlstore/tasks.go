package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/store"
)

type taskStore struct{ s *Store }

func (t *taskStore) Insert(ctx context.Context, rec *flockstate.TaskRecord) error {
	payloadJSON, respJSON, err := marshalTaskJSON(rec)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO tasks (task_id, context_id, from_agent_id, to_agent_id, state, message_type,
		summary, payload_json, response_text, response_payload_json, created_at, updated_at, completed_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		t.s.ph(1), t.s.ph(2), t.s.ph(3), t.s.ph(4), t.s.ph(5), t.s.ph(6), t.s.ph(7),
		t.s.ph(8), t.s.ph(9), t.s.ph(10), t.s.ph(11), t.s.ph(12), t.s.ph(13))
	_, err = t.s.db.ExecContext(ctx, q, rec.TaskID, rec.ContextID, rec.FromAgentID, rec.ToAgentID,
		string(rec.State), rec.MessageType, rec.Summary, payloadJSON, rec.ResponseText, respJSON,
		rec.CreatedAt, rec.UpdatedAt, nullTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", rec.TaskID, err)
	}
	return nil
}

func (t *taskStore) Update(ctx context.Context, rec *flockstate.TaskRecord) error {
	payloadJSON, respJSON, err := marshalTaskJSON(rec)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE tasks SET context_id=%s, from_agent_id=%s, to_agent_id=%s, state=%s,
		message_type=%s, summary=%s, payload_json=%s, response_text=%s, response_payload_json=%s,
		updated_at=%s, completed_at=%s WHERE task_id=%s`,
		t.s.ph(1), t.s.ph(2), t.s.ph(3), t.s.ph(4), t.s.ph(5), t.s.ph(6), t.s.ph(7),
		t.s.ph(8), t.s.ph(9), t.s.ph(10), t.s.ph(11), t.s.ph(12))
	res, err := t.s.db.ExecContext(ctx, q, rec.ContextID, rec.FromAgentID, rec.ToAgentID, string(rec.State),
		rec.MessageType, rec.Summary, payloadJSON, rec.ResponseText, respJSON,
		rec.UpdatedAt, nullTime(rec.CompletedAt), rec.TaskID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", rec.TaskID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound("task_not_found", "task "+rec.TaskID+" not found")
	}
	return nil
}

func (t *taskStore) Get(ctx context.Context, taskID string) (*flockstate.TaskRecord, error) {
	q := fmt.Sprintf(`SELECT task_id, context_id, from_agent_id, to_agent_id, state, message_type, summary,
		payload_json, response_text, response_payload_json, created_at, updated_at, completed_at
		FROM tasks WHERE task_id=%s`, t.s.ph(1))
	row := t.s.db.QueryRowContext(ctx, q, taskID)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task_not_found", "task "+taskID+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return rec, nil
}

func (t *taskStore) List(ctx context.Context, f store.TaskFilter) ([]*flockstate.TaskRecord, error) {
	var where []string
	var args []any
	n := 1
	if f.FromAgentID != "" {
		where = append(where, fmt.Sprintf("from_agent_id=%s", t.s.ph(n)))
		args = append(args, f.FromAgentID)
		n++
	}
	if f.ToAgentID != "" {
		where = append(where, fmt.Sprintf("to_agent_id=%s", t.s.ph(n)))
		args = append(args, f.ToAgentID)
		n++
	}
	if f.ContextID != "" {
		where = append(where, fmt.Sprintf("context_id=%s", t.s.ph(n)))
		args = append(args, f.ContextID)
		n++
	}
	if f.State != "" {
		where = append(where, fmt.Sprintf("state=%s", t.s.ph(n)))
		args = append(args, string(f.State))
		n++
	}
	if f.Since != nil {
		where = append(where, fmt.Sprintf("created_at>=%s", t.s.ph(n)))
		args = append(args, *f.Since)
		n++
	}
	q := `SELECT task_id, context_id, from_agent_id, to_agent_id, state, message_type, summary,
		payload_json, response_text, response_payload_json, created_at, updated_at, completed_at FROM tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := t.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*flockstate.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func marshalTaskJSON(rec *flockstate.TaskRecord) (payloadJSON, respJSON string, err error) {
	payloadJSON, err = marshalJSON(rec.Payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal task payload: %w", err)
	}
	respJSON, err = marshalJSON(rec.ResponsePayload)
	if err != nil {
		return "", "", fmt.Errorf("marshal task response payload: %w", err)
	}
	return payloadJSON, respJSON, nil
}

func scanTask(sc scanner) (*flockstate.TaskRecord, error) {
	var rec flockstate.TaskRecord
	var state string
	var payloadJSON, respJSON string
	var completed sql.NullTime
	var messageType, summary, responseText sql.NullString
	if err := sc.Scan(&rec.TaskID, &rec.ContextID, &rec.FromAgentID, &rec.ToAgentID, &state,
		&messageType, &summary, &payloadJSON, &responseText, &respJSON,
		&rec.CreatedAt, &rec.UpdatedAt, &completed); err != nil {
		return nil, err
	}
	rec.State = flockstate.TaskState(state)
	if !rec.State.Valid() {
		// Unrecognized persisted state: treat as submitted rather than
		// failing the read.
		rec.State = flockstate.TaskSubmitted
	}
	rec.MessageType = messageType.String
	rec.Summary = summary.String
	rec.ResponseText = responseText.String
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}

	rec.Payload = map[string]any{}
	if err := unmarshalJSON(payloadJSON, &rec.Payload); err != nil {
		// Corrupt payload JSON degrades to an empty map rather than
		// failing the read.
		rec.Payload = map[string]any{}
	}
	rec.ResponsePayload = map[string]any{}
	if err := unmarshalJSON(respJSON, &rec.ResponsePayload); err != nil {
		rec.ResponsePayload = map[string]any{}
	}
	return &rec, nil
}
