package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseAvatarStore(t *testing.T, s AvatarStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	first := domain.Avatar{UserID: "user-1", URL: "https://cdn.example/a.webp", UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, s.Set(ctx, first))

	got, ok, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.URL, got.URL)
	assert.True(t, first.UpdatedAt.Equal(got.UpdatedAt))

	// A later upload replaces the current avatar.
	require.NoError(t, s.Set(ctx, domain.Avatar{UserID: "user-1", URL: "https://cdn.example/b.webp"}))
	got, ok, err = s.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/b.webp", got.URL)
	assert.False(t, got.UpdatedAt.IsZero())

	assert.ErrorIs(t, s.Set(ctx, domain.Avatar{UserID: "user-2"}), ErrInvalidAvatar)
	assert.ErrorIs(t, s.Set(ctx, domain.Avatar{URL: "https://cdn.example/c.webp"}), ErrInvalidAvatar)
}

func TestMemoryAvatarStore(t *testing.T) {
	exerciseAvatarStore(t, NewMemoryAvatarStore())
}

func TestRedisAvatarStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewRedisAvatarStore(client, "")
	require.NoError(t, err)
	exerciseAvatarStore(t, s)

	assert.True(t, mr.Exists("avatarcrop:avatar:user-1"))
}

func TestRedisAvatarStoreCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewRedisAvatarStore(client, "test")
	require.NoError(t, err)
	require.NoError(t, mr.Set("test:user-9", "{not json"))

	_, _, err = s.Get(context.Background(), "user-9")
	assert.Error(t, err)
}

// Runs against a live database when AVATARCROP_TEST_POSTGRES_DSN is set.
func TestPostgresAvatarStore(t *testing.T) {
	dsn := os.Getenv("AVATARCROP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AVATARCROP_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewPostgresAvatarStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.db.ExecContext(ctx, `DELETE FROM avatars WHERE user_id IN ('user-1', 'user-2')`)
	require.NoError(t, err)

	exerciseAvatarStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, closeFn, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryAvatarStore{}, s)
	assert.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	s, closeFn, err = Open(ctx, Config{Backend: "redis", RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisAvatarStore{}, s)
	assert.NoError(t, closeFn())

	_, closeFn, err = Open(ctx, Config{Backend: "sqlite"})
	assert.Error(t, err)
	assert.NotNil(t, closeFn)
}
