package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conv_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	visitor_id TEXT NOT NULL,
	role TEXT NOT NULL,
	body TEXT NOT NULL,
	ts BIGINT NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conv_ts ON messages(conv_id, ts);
CREATE INDEX IF NOT EXISTS idx_messages_company ON messages(company_id);
`

// PostgresStore archives transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the archive schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveMessage archives a delivered message. Re-archiving the same id is a no-op.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.ArchivedMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conv_id, company_id, visitor_id, role, body, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.ConversationID, msg.CompanyID, msg.VisitorID, string(msg.Role), msg.Text, msg.Timestamp)
	return err
}

// CountMessages returns the number of archived messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// CountConversations returns the number of distinct archived conversations.
func (s *PostgresStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT conv_id) FROM messages`).Scan(&count)
	return count, err
}

// GetMostRecentActivity returns the timestamp of the newest archived message.
func (s *PostgresStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	var ts int64
	err := s.pool.QueryRow(ctx, `SELECT ts FROM messages ORDER BY ts DESC LIMIT 1`).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t := time.UnixMilli(ts)
	return &t, nil
}
