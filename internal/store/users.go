package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zhouzirui/heartline/backend/internal/model/user"
)

// EnsureUser returns the user, creating it with startEnergy on first contact.
func (s *Store) EnsureUser(ctx context.Context, userID string, startEnergy int) (*user.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, energy, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		userID, startEnergy, formatTime(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return s.GetUser(ctx, userID)
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (*user.User, error) {
	var (
		u       user.User
		created string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, energy, created_at FROM users WHERE id = ?", userID,
	).Scan(&u.ID, &u.Energy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}
