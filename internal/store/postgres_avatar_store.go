package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/avatarcrop/internal/domain"
	_ "github.com/lib/pq"
)

const avatarSchemaSQL = `
CREATE TABLE IF NOT EXISTS avatars (
	user_id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresAvatarStore struct {
	db *sql.DB
}

func NewPostgresAvatarStore(ctx context.Context, dsn string) (*PostgresAvatarStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresAvatarStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresAvatarStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, avatarSchemaSQL); err != nil {
		return fmt.Errorf("ensure avatars schema: %w", err)
	}
	return nil
}

func (s *PostgresAvatarStore) Close() error {
	return s.db.Close()
}

func (s *PostgresAvatarStore) Set(ctx context.Context, avatar domain.Avatar) error {
	if err := validateAvatar(avatar); err != nil {
		return err
	}
	if avatar.UpdatedAt.IsZero() {
		avatar.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO avatars (user_id, url, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET url = EXCLUDED.url, updated_at = EXCLUDED.updated_at`,
		avatar.UserID,
		avatar.URL,
		avatar.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert avatar: %w", err)
	}
	return nil
}

func (s *PostgresAvatarStore) Get(ctx context.Context, userID string) (domain.Avatar, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT user_id, url, updated_at
		 FROM avatars
		 WHERE user_id = $1`,
		userID,
	)

	var a domain.Avatar
	if err := row.Scan(&a.UserID, &a.URL, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Avatar{}, false, nil
		}
		return domain.Avatar{}, false, fmt.Errorf("query avatar: %w", err)
	}
	return a, true, nil
}
