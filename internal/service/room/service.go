// Package room manages the lifecycle and settings of user/character rooms.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/analysis/relationship"
	"github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/model/user"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

var (
	ErrForbidden         = errors.New("room belongs to another user")
	ErrCharacterNotFound = errors.New("character not found")
	ErrInvalidMode       = errors.New("invalid mode")
	ErrModeLocked        = errors.New("mode locked at current relationship tier")
	ErrSceneLocked       = errors.New("scene locked at current relationship tier")
)

// Store is the persistence used by the room service.
type Store interface {
	EnsureUser(ctx context.Context, userID string, startEnergy int) (*user.User, error)
	CreateRoom(ctx context.Context, userID, characterID string) (*chat.Room, bool, error)
	GetRoom(ctx context.Context, roomID string) (*chat.Room, error)
	ListRooms(ctx context.Context, userID string) ([]*chat.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	UpdateMode(ctx context.Context, roomID string, mode chat.Mode) error
	UpdateScene(ctx context.Context, roomID, location, outfit string) error
	AppendMessage(ctx context.Context, msg *chat.Message) error
	RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}

// Config tunes the service.
type Config struct {
	StartingEnergy int
	CacheSize      int
	CacheTTL       time.Duration
}

// Snapshot is a room together with what its tier currently allows.
type Snapshot struct {
	*chat.Room
	AllowedLocations []string `json:"allowedLocations"`
	AllowedOutfits   []string `json:"allowedOutfits"`
	EndingHint       string   `json:"endingHint,omitempty"`
}

// NewSnapshot derives the tier-dependent fields of room.
func NewSnapshot(room *chat.Room) Snapshot {
	tier := relationship.TierFromScore(room.Affection)
	return Snapshot{
		Room:             room,
		AllowedLocations: relationship.AllowedLocations(tier),
		AllowedOutfits:   relationship.AllowedOutfits(tier),
		EndingHint:       relationship.EndingHint(room.Affection),
	}
}

// OpenResult is returned by Open.
type OpenResult struct {
	Snapshot
	Created  bool          `json:"created"`
	Greeting *chat.Message `json:"greeting,omitempty"`
}

// Service implements room operations. Room ownership is cached; the cache is
// advisory and always rebuilt from the store.
type Service struct {
	store      Store
	characters character.Store
	cfg        Config
	owners     *expirable.LRU[string, string]
	locks      *Locker
}

// NewService creates a room service.
func NewService(st Store, characters character.Store, cfg Config) *Service {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Service{
		store:      st,
		characters: characters,
		cfg:        cfg,
		owners:     expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),
		locks:      NewLocker(),
	}
}

// Lock serializes turns and endings on roomID. Callers must invoke the
// returned unlock.
func (s *Service) Lock(roomID string) (unlock func()) {
	return s.locks.Lock(roomID)
}

// Open provisions the user and returns the room with characterID, creating it
// and greeting with the character's opening line on first contact.
func (s *Service) Open(ctx context.Context, userID, characterID string) (*OpenResult, error) {
	c, ok := s.characters.FindByID(characterID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", characterID, ErrCharacterNotFound)
	}
	if _, err := s.store.EnsureUser(ctx, userID, s.cfg.StartingEnergy); err != nil {
		return nil, err
	}

	room, created, err := s.store.CreateRoom(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	s.owners.Add(room.ID, room.UserID)

	result := &OpenResult{Snapshot: NewSnapshot(room), Created: created}
	if created && c.OpeningLine != "" {
		parsed := emotion.Parse(c.OpeningLine)
		greeting := &chat.Message{
			RoomID:       room.ID,
			Role:         chat.RoleAssistant,
			RawContent:   c.OpeningLine,
			CleanContent: parsed.Clean,
			EmotionTag:   string(parsed.Emotion),
		}
		if err := s.store.AppendMessage(ctx, greeting); err != nil {
			return nil, err
		}
		result.Greeting = greeting
		slog.Info("room created", "room_id", room.ID, "user_id", userID, "character_id", characterID)
	}
	return result, nil
}

// Authorize checks that userID owns roomID.
func (s *Service) Authorize(ctx context.Context, userID, roomID string) error {
	owner, ok := s.owners.Get(roomID)
	if !ok {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		owner = room.UserID
		s.owners.Add(roomID, owner)
	}
	if owner != userID {
		return ErrForbidden
	}
	return nil
}

// Get loads a room owned by userID.
func (s *Service) Get(ctx context.Context, userID, roomID string) (*chat.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		s.owners.Remove(roomID)
		return nil, err
	}
	s.owners.Add(roomID, room.UserID)
	if room.UserID != userID {
		return nil, ErrForbidden
	}
	return room, nil
}

// List returns the caller's rooms, most recently active first.
func (s *Service) List(ctx context.Context, userID string) ([]Snapshot, error) {
	rooms, err := s.store.ListRooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(rooms))
	for _, room := range rooms {
		s.owners.Add(room.ID, room.UserID)
		out = append(out, NewSnapshot(room))
	}
	return out, nil
}

// Delete removes the room and its log.
func (s *Service) Delete(ctx context.Context, userID, roomID string) error {
	if err := s.Authorize(ctx, userID, roomID); err != nil {
		return err
	}
	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	s.owners.Remove(roomID)
	slog.Info("room deleted", "room_id", roomID, "user_id", userID)
	return nil
}

// Transcript returns up to limit of the newest log entries in order.
func (s *Service) Transcript(ctx context.Context, userID, roomID string, limit int) ([]chat.Message, error) {
	if err := s.Authorize(ctx, userID, roomID); err != nil {
		return nil, err
	}
	messages, err := s.store.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	return messages, nil
}

// SetMode switches the prompt variant. Secret mode needs relationship.SecretModeTier.
func (s *Service) SetMode(ctx context.Context, userID, roomID, rawMode string) (*chat.Room, error) {
	mode, ok := chat.ParseMode(rawMode)
	if !ok {
		return nil, fmt.Errorf("%q: %w", rawMode, ErrInvalidMode)
	}
	room, err := s.Get(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	tier := relationship.TierFromScore(room.Affection)
	if mode == chat.ModeSecret && !tier.AtLeast(relationship.SecretModeTier) {
		return nil, fmt.Errorf("secret mode needs %s, room is %s: %w", relationship.SecretModeTier, tier, ErrModeLocked)
	}

	if err := s.store.UpdateMode(ctx, roomID, mode); err != nil {
		return nil, err
	}
	room.Mode = mode
	return room, nil
}

// SetScene changes location and outfit. Empty values keep the current ones.
func (s *Service) SetScene(ctx context.Context, userID, roomID, location, outfit string) (*chat.Room, error) {
	room, err := s.Get(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if location == "" {
		location = room.Location
	}
	if outfit == "" {
		outfit = room.Outfit
	}

	tier := relationship.TierFromScore(room.Affection)
	if !slices.Contains(relationship.AllowedLocations(tier), location) {
		return nil, fmt.Errorf("location %q: %w", location, ErrSceneLocked)
	}
	if !slices.Contains(relationship.AllowedOutfits(tier), outfit) {
		return nil, fmt.Errorf("outfit %q: %w", outfit, ErrSceneLocked)
	}

	if err := s.store.UpdateScene(ctx, roomID, location, outfit); err != nil {
		return nil, err
	}
	room.Location, room.Outfit = location, outfit
	return room, nil
}

var _ Store = (*store.Store)(nil)
