package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zhouzirui/heartline/backend/internal/analysis/relationship"
)

// AffectionChange is the outcome of ApplyAffectionDelta.
type AffectionChange struct {
	RoomID      string
	UserID      string
	CharacterID string
	Before      int
	After       int
	FromTier    relationship.Tier
	ToTier      relationship.Tier
}

// Changed reports whether the stored score moved.
func (c AffectionChange) Changed() bool { return c.Before != c.After }

// ApplyAffectionDelta adds delta to the room's score, clamps it and
// recomputes the tier in one transaction. Scores of ended rooms are frozen
// and come back unchanged.
func (s *Store) ApplyAffectionDelta(ctx context.Context, roomID string, delta int) (AffectionChange, error) {
	change := AffectionChange{RoomID: roomID}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var ended bool
		err := tx.QueryRowContext(ctx,
			"SELECT user_id, character_id, affection, ending_reached FROM rooms WHERE id = ?", roomID,
		).Scan(&change.UserID, &change.CharacterID, &change.Before, &ended)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load affection: %w", err)
		}

		change.After = relationship.Clamp(change.Before + delta)
		if ended {
			change.After = change.Before
		}
		change.FromTier = relationship.TierFromScore(change.Before)
		change.ToTier = relationship.TierFromScore(change.After)
		if !change.Changed() {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE rooms SET affection = ?, relation_tier = ? WHERE id = ?",
			change.After, string(change.ToTier), roomID,
		)
		if err != nil {
			return fmt.Errorf("update affection: %w", err)
		}
		return nil
	})
	return change, err
}
