package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps processed ids in a Redis set, for bots sharing state
// across hosts. Members are cached locally at open.
type RedisStore struct {
	client *redis.Client
	key    string
	mu     sync.RWMutex
	ids    map[string]struct{}
}

// OpenRedis connects to url and loads the members of key.
func OpenRedis(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStore(ctx, redis.NewClient(opts), key)
}

// NewRedisStore wraps an existing client. The client is closed by Close.
func NewRedisStore(ctx context.Context, client *redis.Client, key string) (*RedisStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	members, err := client.SMembers(ctx, key).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to load processed ids: %w", err)
	}

	s := &RedisStore{client: client, key: key, ids: make(map[string]struct{}, len(members))}
	for _, m := range members {
		s.ids[m] = struct{}{}
	}
	return s, nil
}

func (s *RedisStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *RedisStore) Add(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.key, id)
	pipe.Set(ctx, s.key+":updated_at", time.Now().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record processed id %s: %w", id, err)
	}

	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *RedisStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	return ids
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
