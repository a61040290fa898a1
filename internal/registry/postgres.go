package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time assertion that PostgresStore implements Registry.
var _ Registry = (*PostgresStore)(nil)

// Schema creates the tables the store needs. Applied with CREATE TABLE IF
// NOT EXISTS so repeated startup is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
    id           TEXT PRIMARY KEY,
    from_number  TEXT NOT NULL DEFAULT '',
    to_number    TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL,
    tts_engine   TEXT NOT NULL DEFAULT '',
    tts_voice    TEXT NOT NULL DEFAULT '',
    tts_speed    DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    ai_enabled   BOOLEAN NOT NULL DEFAULT TRUE,
    purpose      TEXT NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    ended_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS calls_status_started_idx ON calls (status, started_at DESC);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id       BIGSERIAL PRIMARY KEY,
    call_id  TEXT NOT NULL REFERENCES calls (id),
    role     TEXT NOT NULL,
    content  TEXT NOT NULL,
    at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS conversation_messages_call_idx ON conversation_messages (call_id, at);
`

// PostgresStore is the production Registry backed by a pgx connection pool.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("registry: apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CreateCall implements Registry.
func (s *PostgresStore) CreateCall(ctx context.Context, call Call) error {
	if call.Status == "" {
		call.Status = StatusRinging
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now()
	}
	const q = `
		INSERT INTO calls
		    (id, from_number, to_number, status, tts_engine, tts_voice, tts_speed, ai_enabled, purpose, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		call.ID,
		call.From,
		call.To,
		call.Status,
		call.Voice.Engine,
		call.Voice.ID,
		call.Voice.Rate(),
		call.AIEnabled,
		call.Purpose,
		call.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("registry: create call: %w", err)
	}
	return nil
}

const callColumns = `id, from_number, to_number, status, tts_engine, tts_voice, tts_speed,
	ai_enabled, purpose, started_at, COALESCE(ended_at, 'epoch'::timestamptz)`

// GetCall implements Registry.
func (s *PostgresStore) GetCall(ctx context.Context, id string) (Call, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+callColumns+" FROM calls WHERE id = $1", id)
	if err != nil {
		return Call{}, fmt.Errorf("registry: get call: %w", err)
	}
	call, err := pgx.CollectOneRow(rows, scanCall)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("registry: get call: %w", err)
	}
	return call, nil
}

// LatestRinging implements Registry.
func (s *PostgresStore) LatestRinging(ctx context.Context) (Call, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+callColumns+" FROM calls WHERE status = $1 ORDER BY started_at DESC LIMIT 1",
		StatusRinging)
	if err != nil {
		return Call{}, fmt.Errorf("registry: latest ringing: %w", err)
	}
	call, err := pgx.CollectOneRow(rows, scanCall)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("registry: latest ringing: %w", err)
	}
	return call, nil
}

// UpdateStatus implements Registry.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id, status string) error {
	q := "UPDATE calls SET status = $2 WHERE id = $1"
	if status == StatusCompleted {
		q = "UPDATE calls SET status = $2, ended_at = now() WHERE id = $1"
	}
	tag, err := s.pool.Exec(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("registry: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAIEnabled implements Registry.
func (s *PostgresStore) SetAIEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE calls SET ai_enabled = $2 WHERE id = $1", id, enabled)
	if err != nil {
		return fmt.Errorf("registry: set ai_enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPurpose implements Registry.
func (s *PostgresStore) SetPurpose(ctx context.Context, id, purpose string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE calls SET purpose = $2 WHERE id = $1", id, purpose)
	if err != nil {
		return fmt.Errorf("registry: set purpose: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage implements Registry. A missing call record is created on the
// fly so sessions with synthetic ids (simulator runs) log without a prior
// telephony webhook.
func (s *PostgresStore) AppendMessage(ctx context.Context, callID string, msg Message) error {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	const q = `
		WITH ensured AS (
		    INSERT INTO calls (id, status)
		    VALUES ($1, $2)
		    ON CONFLICT (id) DO NOTHING
		)
		INSERT INTO conversation_messages (call_id, role, content, at)
		VALUES ($1, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q, callID, StatusInProgress, msg.Role, msg.Content, msg.At)
	if err != nil {
		return fmt.Errorf("registry: append message: %w", err)
	}
	return nil
}

// RecentMessages implements Registry.
func (s *PostgresStore) RecentMessages(ctx context.Context, callID string, limit int) ([]Message, error) {
	const q = `
		SELECT role, content, at FROM (
		    SELECT id, role, content, at
		    FROM   conversation_messages
		    WHERE  call_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) last ORDER BY id`

	rows, err := s.pool.Query(ctx, q, callID, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: recent messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.Role, &m.Content, &m.At)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("registry: scan messages: %w", err)
	}
	return msgs, nil
}

// Ping implements Registry.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scanCall scans one calls row.
func scanCall(row pgx.CollectableRow) (Call, error) {
	var c Call
	err := row.Scan(
		&c.ID,
		&c.From,
		&c.To,
		&c.Status,
		&c.Voice.Engine,
		&c.Voice.ID,
		&c.Voice.Speed,
		&c.AIEnabled,
		&c.Purpose,
		&c.StartedAt,
		&c.EndedAt,
	)
	return c, err
}
