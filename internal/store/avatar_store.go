package store

import (
	"context"
	"errors"
	"strings"

	"github.com/dunamismax/avatarcrop/internal/domain"
)

var ErrInvalidAvatar = errors.New("invalid avatar record")

// AvatarStore keeps the current avatar per user. Set replaces any previous
// record.
type AvatarStore interface {
	Get(ctx context.Context, userID string) (domain.Avatar, bool, error)
	Set(ctx context.Context, avatar domain.Avatar) error
}

func validateAvatar(a domain.Avatar) error {
	if strings.TrimSpace(a.UserID) == "" {
		return errors.Join(ErrInvalidAvatar, errors.New("user id is required"))
	}
	if strings.TrimSpace(a.URL) == "" {
		return errors.Join(ErrInvalidAvatar, errors.New("url is required"))
	}
	return nil
}
