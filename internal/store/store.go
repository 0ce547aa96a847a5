package store

import (
	"context"
	"time"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// Archive is an append-only transcript sink for delivered messages.
// PostgresStore, SQLiteStore and RedisStore implement it. Archives are never
// read back into the live conversation store.
type Archive interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Transcript operations
	SaveMessage(ctx context.Context, msg *models.ArchivedMessage) error
	CountMessages(ctx context.Context) (int64, error)
	CountConversations(ctx context.Context) (int64, error)
	GetMostRecentActivity(ctx context.Context) (*time.Time, error)
}
