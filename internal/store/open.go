package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Backend     string
	PostgresDSN string
	RedisURL    string
}

// Open builds the configured avatar store. The returned close func is never nil.
func Open(ctx context.Context, cfg Config) (AvatarStore, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemoryAvatarStore(), noop, nil
	case BackendPostgres:
		s, err := NewPostgresAvatarStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendRedis:
		client, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		s, err := NewRedisAvatarStore(client, "")
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return s, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown avatar store backend %q", cfg.Backend)
	}
}

// NewRedisClient parses a redis:// URL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
