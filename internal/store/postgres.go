package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

const pgForeignKeyViolation = "23503"

const pgSchema = `
CREATE TABLE IF NOT EXISTS chat_users (
	username   TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	sender     TEXT NOT NULL REFERENCES chat_users (username),
	receiver   TEXT NOT NULL REFERENCES chat_users (username),
	body       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	is_read    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS chat_messages_pair_idx ON chat_messages (sender, receiver, created_at);
CREATE INDEX IF NOT EXISTS chat_messages_unread_idx ON chat_messages (receiver, created_at) WHERE NOT is_read;
`

// PostgresStore persists messages in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool  *pgxpool.Pool
	log   *zap.Logger
	clock *clock
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn, verifies the connection and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string, log *zap.Logger) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres: DB_URL is not set")
	}

	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 8
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &PostgresStore{pool: pool, log: log, clock: newClock()}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and indexes when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Persist inserts the message only when both identities are registered.
func (s *PostgresStore) Persist(ctx context.Context, sender, receiver, body string) (chat.Message, error) {
	message, err := newMessage(sender, receiver, body, s.clock.next())
	if err != nil {
		return chat.Message{}, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, sender, receiver, body, created_at)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::timestamptz
		WHERE EXISTS (SELECT 1 FROM chat_users WHERE username = $2::text)
		  AND EXISTS (SELECT 1 FROM chat_users WHERE username = $3::text)
	`, message.ID, message.Sender, message.Receiver, message.Body, message.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return chat.Message{}, ErrUnknownUser
		}
		return chat.Message{}, wrapErr("insert message", err)
	}
	if tag.RowsAffected() == 0 {
		return chat.Message{}, ErrUnknownUser
	}
	return message, nil
}

// History selects the conversation between a and b.
func (s *PostgresStore) History(ctx context.Context, userA, userB string) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender, receiver, body, created_at, is_read
		FROM chat_messages
		WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
		ORDER BY created_at ASC, id ASC
	`, userA, userB)
	if err != nil {
		return nil, wrapErr("select history", err)
	}
	return scanMessages(rows)
}

// Unread selects pending messages for user.
func (s *PostgresStore) Unread(ctx context.Context, user string) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender, receiver, body, created_at, is_read
		FROM chat_messages
		WHERE receiver = $1 AND NOT is_read
		ORDER BY created_at ASC, id ASC
	`, user)
	if err != nil {
		return nil, wrapErr("select unread", err)
	}
	return scanMessages(rows)
}

// MarkRead updates only rows that are still unread.
func (s *PostgresStore) MarkRead(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE chat_messages SET is_read = TRUE WHERE id = $1 AND NOT is_read`, id)
	return wrapErr("mark read", err)
}

// EnsureUser inserts username unless it already exists.
func (s *PostgresStore) EnsureUser(ctx context.Context, username string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_users (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, username)
	return wrapErr("ensure user", err)
}

// Users lists registered identities.
func (s *PostgresStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM chat_users ORDER BY username ASC`)
	if err != nil {
		return nil, wrapErr("select users", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapErr("scan users", err)
	}
	return users, nil
}

// Close drains the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanMessages(rows pgx.Rows) ([]chat.Message, error) {
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var m chat.Message
		err := row.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Body, &m.Timestamp, &m.IsRead)
		m.Timestamp = m.Timestamp.UTC()
		return m, err
	})
	if err != nil {
		return nil, wrapErr("scan messages", err)
	}
	return messages, nil
}

// normalizeDSN converts driver-suffixed DSNs (postgresql+asyncpg://) to plain pgx form.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, prefix := range []string{"postgresql+asyncpg://", "postgresql+pgx://", "postgresql+psycopg://"} {
		s = strings.Replace(s, prefix, "postgresql://", 1)
	}
	for _, prefix := range []string{"postgres+asyncpg://", "postgres+pgx://"} {
		s = strings.Replace(s, prefix, "postgres://", 1)
	}
	return s
}
