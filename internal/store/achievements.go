package store

import (
	"context"
	"fmt"

	"github.com/zhouzirui/heartline/backend/internal/model/user"
)

// UnlockAchievement records code for the user. It reports false when the
// achievement was already unlocked.
func (s *Store) UnlockAchievement(ctx context.Context, userID, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO achievements (user_id, code, unlocked_at) VALUES (?, ?, ?)",
		userID, code, formatTime(s.now()),
	)
	if err != nil {
		return false, fmt.Errorf("unlock achievement %s: %w", code, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListAchievements returns a user's achievements in unlock order.
func (s *Store) ListAchievements(ctx context.Context, userID string) ([]user.Achievement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, code, unlocked_at FROM achievements WHERE user_id = ? ORDER BY unlocked_at, code", userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	var out []user.Achievement
	for rows.Next() {
		var (
			a  user.Achievement
			at string
		)
		if err := rows.Scan(&a.UserID, &a.Code, &at); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		a.UnlockedAt = parseTime(at)
		out = append(out, a)
	}
	return out, rows.Err()
}
