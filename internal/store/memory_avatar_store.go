package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/avatarcrop/internal/domain"
)

type MemoryAvatarStore struct {
	mu      sync.RWMutex
	avatars map[string]domain.Avatar
}

func NewMemoryAvatarStore() *MemoryAvatarStore {
	return &MemoryAvatarStore{
		avatars: make(map[string]domain.Avatar),
	}
}

func (s *MemoryAvatarStore) Get(_ context.Context, userID string) (domain.Avatar, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.avatars[userID]
	return a, ok, nil
}

func (s *MemoryAvatarStore) Set(_ context.Context, avatar domain.Avatar) error {
	if err := validateAvatar(avatar); err != nil {
		return err
	}
	if avatar.UpdatedAt.IsZero() {
		avatar.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.avatars[avatar.UserID] = avatar
	return nil
}
