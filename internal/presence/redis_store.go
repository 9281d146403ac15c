package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"
)

// RedisStore keeps the online set in Redis: a set of user ids plus one key per
// user holding the time the user came online.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient connects to url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) SetOnline(ctx context.Context, userID string, since time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, presenceKeyPrefix+userID, since.UTC().Format(time.RFC3339Nano), 0)
	pipe.SAdd(ctx, onlineSetKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set online %s: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) SetOffline(ctx context.Context, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, presenceKeyPrefix+userID)
	pipe.SRem(ctx, onlineSetKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set offline %s: %w", userID, err)
	}
	return nil
}

// OnlineUsers returns the mirrored online set.
func (s *RedisStore) OnlineUsers(ctx context.Context) ([]string, error) {
	users, err := s.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("get online users: %w", err)
	}
	return users, nil
}

// Since returns when userID came online, or false if the user is offline.
func (s *RedisStore) Since(ctx context.Context, userID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, presenceKeyPrefix+userID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get presence %s: %w", userID, err)
	}
	since, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse presence %s: %w", userID, err)
	}
	return since, true, nil
}

// Reset clears the mirrored state. The hub is the only writer, so it starts
// from an empty set.
func (s *RedisStore) Reset(ctx context.Context) error {
	users, err := s.OnlineUsers(ctx)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, id := range users {
		pipe.Del(ctx, presenceKeyPrefix+id)
	}
	pipe.Del(ctx, onlineSetKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}
