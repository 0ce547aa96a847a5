package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "nested", "archive.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func archived(convID, text string) *models.ArchivedMessage {
	return &models.ArchivedMessage{
		Message:        models.NewMessage(models.RoleUser, text),
		ConversationID: convID,
		CompanyID:      "acme",
		VisitorID:      "v1",
	}
}

func TestSQLiteStore_EmptyArchive(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	n, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	last, err := s.GetMostRecentActivity(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSQLiteStore_SaveMessage(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first := archived("acme:v1", "hello")
	second := archived("acme:v1", "again")
	other := archived("acme:v2", "hi")

	require.NoError(t, s.SaveMessage(ctx, first))
	require.NoError(t, s.SaveMessage(ctx, second))
	require.NoError(t, s.SaveMessage(ctx, other))
	require.NoError(t, s.SaveMessage(ctx, first), "re-archiving is a no-op")

	msgs, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), msgs)

	convs, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), convs)

	last, err := s.GetMostRecentActivity(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, other.Timestamp, last.UnixMilli())

	var body, role string
	err = s.db.QueryRowContext(ctx, `SELECT body, role FROM messages WHERE id = ?`, second.ID).Scan(&body, &role)
	require.NoError(t, err)
	assert.Equal(t, "again", body)
	assert.Equal(t, "user", role)
}
