package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig addresses the shared counter store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// RedisStore shares windows between proxy instances. Each key holds the
// window's count and expires with the window.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	k := s.key(key)
	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("incr %s: %w", k, err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return Entry{}, fmt.Errorf("pexpire %s: %w", k, err)
		}
		return Entry{Count: 1, ResetAt: now.Add(window)}, nil
	}

	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("pttl %s: %w", k, err)
	}
	if ttl < 0 {
		// Key lost its expiry (e.g. the first caller died between INCR and PEXPIRE).
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return Entry{}, fmt.Errorf("pexpire %s: %w", k, err)
		}
		ttl = window
	}
	return Entry{Count: int(count), ResetAt: now.Add(ttl)}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
