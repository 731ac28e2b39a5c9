package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "avatarcrop:avatar"

type RedisAvatarStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisAvatarStore(client redis.UniversalClient, keyPrefix string) (*RedisAvatarStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &RedisAvatarStore{client: client, keyPrefix: keyPrefix}, nil
}

func (s *RedisAvatarStore) key(userID string) string {
	return s.keyPrefix + ":" + userID
}

func (s *RedisAvatarStore) Set(ctx context.Context, avatar domain.Avatar) error {
	if err := validateAvatar(avatar); err != nil {
		return err
	}
	if avatar.UpdatedAt.IsZero() {
		avatar.UpdatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(avatar)
	if err != nil {
		return fmt.Errorf("marshal avatar: %w", err)
	}
	if err := s.client.Set(ctx, s.key(avatar.UserID), payload, 0).Err(); err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	return nil
}

func (s *RedisAvatarStore) Get(ctx context.Context, userID string) (domain.Avatar, bool, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Avatar{}, false, nil
		}
		return domain.Avatar{}, false, fmt.Errorf("get avatar: %w", err)
	}

	var a domain.Avatar
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Avatar{}, false, fmt.Errorf("unmarshal avatar: %w", err)
	}
	return a, true, nil
}
