package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/heartline/backend/internal/analysis/relationship"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

const roomColumns = `id, user_id, character_id, affection, relation_tier, mode, location, outfit,
	last_emotion, last_active_at, ending_reached, ending_type, ending_title, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*chat.Room, error) {
	var (
		r                 chat.Room
		mode              string
		lastActive, ctime string
	)
	err := row.Scan(&r.ID, &r.UserID, &r.CharacterID, &r.Affection, &r.RelationTier, &mode,
		&r.Location, &r.Outfit, &r.LastEmotion, &lastActive, &r.EndingReached,
		&r.EndingType, &r.EndingTitle, &ctime)
	if err != nil {
		return nil, err
	}
	r.Mode = chat.Mode(mode)
	r.LastActiveAt = parseTime(lastActive)
	r.CreatedAt = parseTime(ctime)
	return &r, nil
}

// CreateRoom returns the room for (userID, characterID), creating it at a
// score of zero when missing. created reports whether a new row was inserted.
func (s *Store) CreateRoom(ctx context.Context, userID, characterID string) (room *chat.Room, created bool, err error) {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, user_id, character_id, affection, relation_tier, mode, location, outfit,
			last_active_at, created_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, character_id) DO NOTHING`,
		uuid.NewString(), userID, characterID, string(relationship.TierFromScore(0)),
		string(chat.ModeStory), relationship.BaseLocation, relationship.BaseOutfit, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create room: %w", err)
	}
	n, _ := res.RowsAffected()

	room, err = s.GetRoomByPair(ctx, userID, characterID)
	if err != nil {
		return nil, false, err
	}
	return room, n > 0, nil
}

// GetRoom loads a room by id.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*chat.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = ?", roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return room, nil
}

// GetRoomByPair loads the room of a user with a character.
func (s *Store) GetRoomByPair(ctx context.Context, userID, characterID string) (*chat.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE user_id = ? AND character_id = ?", userID, characterID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s/%s: %w", userID, characterID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s/%s: %w", userID, characterID, err)
	}
	return room, nil
}

// ListRooms returns the rooms of a user, most recently active first.
func (s *Store) ListRooms(ctx context.Context, userID string) ([]*chat.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE user_id = ? ORDER BY last_active_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*chat.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// DeleteRoom removes a room and, through the foreign key, its log.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	return s.execRoom(ctx, roomID, "DELETE FROM rooms WHERE id = ?", roomID)
}

// UpdateMode switches the prompt variant of a room.
func (s *Store) UpdateMode(ctx context.Context, roomID string, mode chat.Mode) error {
	return s.execRoom(ctx, roomID, "UPDATE rooms SET mode = ? WHERE id = ?", string(mode), roomID)
}

// UpdateScene sets the current location and outfit.
func (s *Store) UpdateScene(ctx context.Context, roomID, location, outfit string) error {
	return s.execRoom(ctx, roomID, "UPDATE rooms SET location = ?, outfit = ? WHERE id = ?", location, outfit, roomID)
}

// TouchRoom records the latest activity time and the character's last emotion.
func (s *Store) TouchRoom(ctx context.Context, roomID, emotion string, at time.Time) error {
	return s.execRoom(ctx, roomID,
		"UPDATE rooms SET last_active_at = ?, last_emotion = ? WHERE id = ?", formatTime(at), emotion, roomID)
}

func (s *Store) execRoom(ctx context.Context, roomID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update room %s: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return nil
}
