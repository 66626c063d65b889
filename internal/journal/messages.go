package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = "id, session_id, direction, kind, method, msgid, detail, created_at"

// RecordMessage appends one traffic row. CreatedAt defaults to now.
func (s *Store) RecordMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if msg.SessionID == "" {
		return fmt.Errorf("message session id is empty")
	}
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
		msg.CreatedAt = created
	}
	res, err := s.exec(
		ctx,
		`INSERT INTO messages (session_id, direction, kind, method, msgid, detail, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID,
		msg.Direction,
		msg.Kind,
		nullableString(msg.Method),
		nullableIntPtr(msg.MsgID),
		nullableString(msg.Detail),
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}
	return nil
}

// RecentMessages returns the newest messages for a session in chronological
// order, up to limit (0 means all).
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest-first from the query; callers read top to bottom.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// StatsForSession tallies the session's traffic by kind.
func (s *Store) StatsForSession(ctx context.Context, sessionID string) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM messages WHERE session_id = ? GROUP BY kind`, sessionID)
	if err != nil {
		return Stats{}, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return Stats{}, err
		}
		switch kind {
		case KindRequest:
			stats.Requests = count
		case KindResponse:
			stats.Responses = count
		case KindNotification:
			stats.Notifications = count
		case KindDrop:
			stats.Drops = count
		}
	}
	return stats, rows.Err()
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var (
		id         int64
		sessionID  string
		direction  string
		kind       string
		method     sql.NullString
		msgid      sql.NullInt64
		detail     sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&id, &sessionID, &direction, &kind, &method, &msgid, &detail, &createdRaw); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        id,
		SessionID: sessionID,
		Direction: direction,
		Kind:      kind,
		Method:    method.String,
		Detail:    detail.String,
	}
	if msgid.Valid {
		value := msgid.Int64
		msg.MsgID = &value
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		msg.CreatedAt = created
	}
	return msg, nil
}
