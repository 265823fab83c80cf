package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/store"
)

type channelStore struct{ s *Store }

func (c *channelStore) Insert(ctx context.Context, ch *flockstate.Channel) error {
	membersJSON, readyJSON, err := marshalChannelJSON(ch)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO channels (channel_id, name, topic, created_by, members_json, archived,
		archive_ready_json, archiving_started_at, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		c.s.ph(1), c.s.ph(2), c.s.ph(3), c.s.ph(4), c.s.ph(5), c.s.ph(6), c.s.ph(7), c.s.ph(8), c.s.ph(9), c.s.ph(10))
	_, err = c.s.db.ExecContext(ctx, q, ch.ChannelID, ch.Name, ch.Topic, ch.CreatedBy, membersJSON,
		ch.Archived, readyJSON, nullTime(ch.ArchivingStartedAt), ch.CreatedAt, ch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert channel %s: %w", ch.ChannelID, err)
	}
	return nil
}

func (c *channelStore) Update(ctx context.Context, ch *flockstate.Channel) error {
	membersJSON, readyJSON, err := marshalChannelJSON(ch)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE channels SET name=%s, topic=%s, created_by=%s, members_json=%s, archived=%s,
		archive_ready_json=%s, archiving_started_at=%s, updated_at=%s WHERE channel_id=%s`,
		c.s.ph(1), c.s.ph(2), c.s.ph(3), c.s.ph(4), c.s.ph(5), c.s.ph(6), c.s.ph(7), c.s.ph(8), c.s.ph(9))
	res, err := c.s.db.ExecContext(ctx, q, ch.Name, ch.Topic, ch.CreatedBy, membersJSON, ch.Archived,
		readyJSON, nullTime(ch.ArchivingStartedAt), ch.UpdatedAt, ch.ChannelID)
	if err != nil {
		return fmt.Errorf("update channel %s: %w", ch.ChannelID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound("channel_not_found", "channel "+ch.ChannelID+" not found")
	}
	return nil
}

func (c *channelStore) Get(ctx context.Context, channelID string) (*flockstate.Channel, error) {
	q := fmt.Sprintf(`SELECT channel_id, name, topic, created_by, members_json, archived, archive_ready_json,
		archiving_started_at, created_at, updated_at FROM channels WHERE channel_id=%s`, c.s.ph(1))
	row := c.s.db.QueryRowContext(ctx, q, channelID)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("channel_not_found", "channel "+channelID+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", channelID, err)
	}
	return ch, nil
}

func (c *channelStore) ListForMember(ctx context.Context, agentID string) ([]*flockstate.Channel, error) {
	q := `SELECT channel_id, name, topic, created_by, members_json, archived, archive_ready_json,
		archiving_started_at, created_at, updated_at FROM channels ORDER BY created_at ASC`
	rows, err := c.s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []*flockstate.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		if ch.HasMember(agentID) {
			out = append(out, ch)
		}
	}
	return out, rows.Err()
}

func (c *channelStore) Delete(ctx context.Context, channelID string) error {
	q := fmt.Sprintf("DELETE FROM channels WHERE channel_id=%s", c.s.ph(1))
	_, err := c.s.db.ExecContext(ctx, q, channelID)
	if err != nil {
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	return nil
}

func marshalChannelJSON(ch *flockstate.Channel) (membersJSON, readyJSON string, err error) {
	membersJSON, err = marshalJSON(ch.Members)
	if err != nil {
		return "", "", fmt.Errorf("marshal channel members: %w", err)
	}
	readyJSON, err = marshalJSON(ch.ArchiveReadyMembers)
	if err != nil {
		return "", "", fmt.Errorf("marshal channel archive-ready members: %w", err)
	}
	return membersJSON, readyJSON, nil
}

func scanChannel(sc scanner) (*flockstate.Channel, error) {
	var ch flockstate.Channel
	var membersJSON, readyJSON string
	var archivingStarted sql.NullTime
	var topic, createdBy sql.NullString
	if err := sc.Scan(&ch.ChannelID, &ch.Name, &topic, &createdBy, &membersJSON, &ch.Archived,
		&readyJSON, &archivingStarted, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	ch.Topic = topic.String
	ch.CreatedBy = createdBy.String
	if archivingStarted.Valid {
		t := archivingStarted.Time
		ch.ArchivingStartedAt = &t
	}
	if err := unmarshalJSON(membersJSON, &ch.Members); err != nil {
		ch.Members = nil
	}
	if err := unmarshalJSON(readyJSON, &ch.ArchiveReadyMembers); err != nil {
		ch.ArchiveReadyMembers = nil
	}
	return &ch, nil
}

type channelMessageStore struct{ s *Store }

func (c *channelMessageStore) Append(ctx context.Context, msg *flockstate.ChannelMessage) error {
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append-message transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	q := fmt.Sprintf("SELECT MAX(seq) FROM channel_messages WHERE channel_id=%s", c.s.ph(1))
	if err := tx.QueryRowContext(ctx, q, msg.ChannelID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("read max seq for channel %s: %w", msg.ChannelID, err)
	}
	msg.Seq = maxSeq.Int64 + 1

	insert := fmt.Sprintf(`INSERT INTO channel_messages (channel_id, seq, agent_id, content, timestamp)
		VALUES (%s, %s, %s, %s, %s)`, c.s.ph(1), c.s.ph(2), c.s.ph(3), c.s.ph(4), c.s.ph(5))
	if _, err := tx.ExecContext(ctx, insert, msg.ChannelID, msg.Seq, msg.AgentID, msg.Content, msg.Timestamp); err != nil {
		return fmt.Errorf("insert channel message: %w", err)
	}

	return tx.Commit()
}

func (c *channelMessageStore) List(ctx context.Context, f store.ChannelMessageFilter) ([]*flockstate.ChannelMessage, error) {
	q := fmt.Sprintf(`SELECT channel_id, seq, agent_id, content, timestamp FROM channel_messages
		WHERE channel_id=%s AND seq>%s ORDER BY seq ASC`, c.s.ph(1), c.s.ph(2))
	args := []any{f.ChannelID, f.SinceSeq}
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := c.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list channel messages: %w", err)
	}
	defer rows.Close()

	var out []*flockstate.ChannelMessage
	for rows.Next() {
		var msg flockstate.ChannelMessage
		if err := rows.Scan(&msg.ChannelID, &msg.Seq, &msg.AgentID, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan channel message row: %w", err)
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}
