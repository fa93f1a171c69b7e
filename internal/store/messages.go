package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// ErrInsufficientEnergy is returned by BeginTurn under the strict policy.
var ErrInsufficientEnergy = errors.New("insufficient energy")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertMessage(ctx context.Context, db execer, msg *chat.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, role, raw_content, clean_content, emotion_tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, string(msg.Role), msg.RawContent, msg.CleanContent, msg.EmotionTag,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		msg.Seq = seq
	}
	return nil
}

// AppendMessage adds an entry to the end of a room's log. ID, CreatedAt and
// Seq are filled in on msg.
func (s *Store) AppendMessage(ctx context.Context, msg *chat.Message) error {
	return s.insertMessage(ctx, s.db, msg)
}

// TurnStart describes the first write of a turn.
type TurnStart struct {
	UserID string
	Cost   int
	// Strict rejects the turn when the balance is below Cost. Otherwise the
	// balance floors at zero and the turn proceeds.
	Strict  bool
	Message *chat.Message
}

// BeginTurn debits the turn cost and appends the user's entry in one
// transaction. It returns the remaining energy.
func (s *Store) BeginTurn(ctx context.Context, in TurnStart) (int, error) {
	var left int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var energy int
		err := tx.QueryRowContext(ctx, "SELECT energy FROM users WHERE id = ?", in.UserID).Scan(&energy)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %s: %w", in.UserID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load energy: %w", err)
		}

		if in.Strict && energy < in.Cost {
			return ErrInsufficientEnergy
		}
		left = max(energy-in.Cost, 0)

		if _, err := tx.ExecContext(ctx, "UPDATE users SET energy = ? WHERE id = ?", left, in.UserID); err != nil {
			return fmt.Errorf("debit energy: %w", err)
		}
		return s.insertMessage(ctx, tx, in.Message)
	})
	return left, err
}

// RecentMessages returns up to limit of the newest entries in chronological
// order. A limit of zero or less returns the whole log.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, room_id, role, raw_content, clean_content, emotion_tag, created_at
		FROM messages WHERE room_id = ?
		ORDER BY seq DESC LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			m       chat.Message
			role    string
			created string
		)
		if err := rows.Scan(&m.Seq, &m.ID, &m.RoomID, &role, &m.RawContent, &m.CleanContent, &m.EmotionTag, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// CountMessages counts user and assistant entries of a room.
func (s *Store) CountMessages(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE room_id = ? AND role IN ('user', 'assistant')", roomID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// FirstMessageAt returns the time of the oldest entry; ok is false for an
// empty log.
func (s *Store) FirstMessageAt(ctx context.Context, roomID string) (at time.Time, ok bool, err error) {
	var raw sql.NullString
	err = s.db.QueryRowContext(ctx,
		"SELECT created_at FROM messages WHERE room_id = ? ORDER BY seq ASC LIMIT 1", roomID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("first message: %w", err)
	}
	return parseTime(raw.String), raw.Valid, nil
}
