package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = "id, run_id, transport, target, engine_pid, channel_id, engine_version, started_at, ended_at, end_reason, exit_code"

// BeginSession records a new attachment. StartedAt defaults to now.
func (s *Store) BeginSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	if session.ID == "" {
		return errors.New("session id is empty")
	}
	started := session.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
		session.StartedAt = started
	}
	if _, err := s.exec(
		ctx,
		`INSERT INTO sessions (
            id, run_id, transport, target, engine_pid, channel_id,
            engine_version, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.RunID,
		session.Transport,
		session.Target,
		nullableInt(session.EnginePID),
		nullableInt(session.ChannelID),
		nullableString(session.EngineVersion),
		started.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// RecordHandshake fills in the api handshake fields once the engine answers.
func (s *Store) RecordHandshake(ctx context.Context, sessionID string, channelID int64, version string) error {
	if _, err := s.exec(
		ctx,
		`UPDATE sessions SET channel_id = ?, engine_version = ? WHERE id = ?`,
		channelID,
		nullableString(version),
		sessionID,
	); err != nil {
		return fmt.Errorf("record handshake: %w", err)
	}
	return nil
}

// EndSession marks the session finished. A nil exitCode means no engine
// process was owned or its status is unknown.
func (s *Store) EndSession(ctx context.Context, sessionID, reason string, exitCode *int64) error {
	if _, err := s.exec(
		ctx,
		`UPDATE sessions SET ended_at = ?, end_reason = ?, exit_code = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		nullableString(reason),
		nullableIntPtr(exitCode),
		sessionID,
	); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession fetches one session by id, or nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ActiveSession returns the newest session without an end mark, or nil.
func (s *Store) ActiveSession(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}
	return session, nil
}

// Sessions lists sessions newest first, up to limit (0 means all).
func (s *Store) Sessions(ctx context.Context, limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Prune removes ended sessions older than the retention window, along with
// their messages, and reports how many sessions went.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.exec(ctx,
		`DELETE FROM sessions WHERE ended_at IS NOT NULL AND started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes every session and message.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	if _, err := s.exec(ctx, `DELETE FROM messages`); err != nil {
		return 0, fmt.Errorf("clear messages: %w", err)
	}
	res, err := s.exec(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id         string
		runID      string
		transport  string
		target     string
		enginePID  sql.NullInt64
		channelID  sql.NullInt64
		version    sql.NullString
		startedRaw string
		endedRaw   sql.NullString
		endReason  sql.NullString
		exitCode   sql.NullInt64
	)
	if err := scanner.Scan(
		&id,
		&runID,
		&transport,
		&target,
		&enginePID,
		&channelID,
		&version,
		&startedRaw,
		&endedRaw,
		&endReason,
		&exitCode,
	); err != nil {
		return nil, err
	}

	session := &Session{
		ID:            id,
		RunID:         runID,
		Transport:     transport,
		Target:        target,
		EnginePID:     enginePID.Int64,
		ChannelID:     channelID.Int64,
		EngineVersion: version.String,
		EndReason:     endReason.String,
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		session.StartedAt = started
	}
	if endedRaw.Valid {
		if ended, err := parseTimeString(endedRaw.String); err == nil {
			session.EndedAt = &ended
		}
	}
	if exitCode.Valid {
		code := exitCode.Int64
		session.ExitCode = &code
	}
	return session, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableIntPtr(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
