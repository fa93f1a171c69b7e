package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// ErrEndingExists is returned when a room already reached its ending.
var ErrEndingExists = errors.New("ending already reached")

// EndingRecord is the final write of the ending pipeline.
type EndingRecord struct {
	RoomID string
	Type   string
	Title  string
	// Message is appended to the log as a system entry.
	Message *chat.Message
}

// FinalizeEnding appends the system entry and marks the room as ended in one
// transaction.
func (s *Store) FinalizeEnding(ctx context.Context, rec EndingRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var reached bool
		err := tx.QueryRowContext(ctx, "SELECT ending_reached FROM rooms WHERE id = ?", rec.RoomID).Scan(&reached)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("room %s: %w", rec.RoomID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load room: %w", err)
		}
		if reached {
			return ErrEndingExists
		}

		if rec.Message != nil {
			rec.Message.RoomID = rec.RoomID
			rec.Message.Role = chat.RoleSystem
			if err := s.insertMessage(ctx, tx, rec.Message); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rooms SET ending_reached = 1, ending_type = ?, ending_title = ?, last_active_at = ?
			WHERE id = ?`,
			rec.Type, rec.Title, formatTime(s.now()), rec.RoomID,
		)
		if err != nil {
			return fmt.Errorf("mark ending: %w", err)
		}
		return nil
	})
}
