package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

const (
	messageTTL         = 24 * time.Hour
	conversationsKey   = "archive:conversations"
	messageCountKey    = "archive:messages:count"
	lastActivityKey    = "archive:messages:last_ts"
	transcriptMaxCount = 1000
)

// RedisStore handles Redis operations: transcript archiving and the client
// shared with the rate limiter.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client. Nil-safe.
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() {
	_ = s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// conversationMessagesKey returns the key for a conversation's message sorted set.
func conversationMessagesKey(convID string) string {
	return fmt.Sprintf("archive:conv:%s:messages", convID)
}

// SaveMessage appends msg to the conversation's sorted set, scored by timestamp.
// Transcripts expire after messageTTL and are capped at transcriptMaxCount entries.
func (s *RedisStore) SaveMessage(ctx context.Context, msg *models.ArchivedMessage) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := conversationMessagesKey(msg.ConversationID)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	})
	pipe.ZRemRangeByRank(ctx, key, 0, -transcriptMaxCount-1)
	pipe.Expire(ctx, key, messageTTL)
	pipe.SAdd(ctx, conversationsKey, msg.ConversationID)
	pipe.Incr(ctx, messageCountKey)
	pipe.Set(ctx, lastActivityKey, msg.Timestamp, 0)
	_, err = pipe.Exec(ctx)
	return err
}

// CountMessages returns the number of archived messages.
func (s *RedisStore) CountMessages(ctx context.Context) (int64, error) {
	n, err := s.client.Get(ctx, messageCountKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// CountConversations returns the number of archived conversations.
func (s *RedisStore) CountConversations(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, conversationsKey).Result()
}

// GetMostRecentActivity returns the timestamp of the newest archived message.
func (s *RedisStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	ts, err := s.client.Get(ctx, lastActivityKey).Int64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ts)
	return &t, nil
}
