// Package chat runs a single conversational turn end to end.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/analysis/relationship"
	"github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/affection"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

var (
	ErrEmptyMessage       = errors.New("message is empty")
	ErrEndingReached      = errors.New("room has already reached its ending")
	ErrInsufficientEnergy = errors.New("not enough energy for this turn")
)

// EnergyPolicy decides what happens when a user cannot afford a turn.
type EnergyPolicy string

const (
	// EnergySoft floors the balance at zero and lets the turn proceed.
	EnergySoft EnergyPolicy = "soft"
	// EnergyStrict rejects the turn.
	EnergyStrict EnergyPolicy = "strict"
)

// Rooms resolves a room owned by the caller and serializes work on it.
type Rooms interface {
	Get(ctx context.Context, userID, roomID string) (*chat.Room, error)
	Lock(roomID string) (unlock func())
}

// Store is the persistence used during a turn.
type Store interface {
	BeginTurn(ctx context.Context, in store.TurnStart) (int, error)
	AppendMessage(ctx context.Context, msg *chat.Message) error
	RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
	CountMessages(ctx context.Context, roomID string) (int, error)
	TouchRoom(ctx context.Context, roomID, emotion string, at time.Time) error
}

// Generator produces the character reply.
type Generator interface {
	Complete(ctx context.Context, req ai.Request) (string, error)
}

// Memory retrieves and schedules long-term memories.
type Memory interface {
	Retrieve(ctx context.Context, userID, query string) string
	Schedule(roomID, userID string)
}

// Publisher hands user messages to the affection scorer.
type Publisher interface {
	Publish(ev affection.Event) bool
}

// Config tunes the turn processor.
type Config struct {
	TurnEnergyCost  int
	EnergyPolicy    EnergyPolicy
	HistoryLimit    int
	SummaryInterval int
	Model           string
	Temperature     float32
}

// TurnResult is the reply to one user message. Score and Tier are read
// before the asynchronous scorer applies this turn's delta.
type TurnResult struct {
	Reply      string            `json:"reply"`
	Direction  string            `json:"direction,omitempty"`
	Emotion    emotion.Label     `json:"emotion"`
	Score      int               `json:"score"`
	Tier       relationship.Tier `json:"tier"`
	EnergyLeft int               `json:"energyLeft"`
	EndingHint string            `json:"endingHint,omitempty"`
	Message    *chat.Message     `json:"message"`
}

// Service is the turn processor.
type Service struct {
	rooms      Rooms
	store      Store
	characters character.Store
	gen        Generator
	memory     Memory
	publisher  Publisher
	cfg        Config
	now        func() time.Time
}

// NewService wires the turn processor. memory and publisher may be nil.
func NewService(rooms Rooms, st Store, characters character.Store, gen Generator, memory Memory, publisher Publisher, cfg Config) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.EnergyPolicy == "" {
		cfg.EnergyPolicy = EnergySoft
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	return &Service{
		rooms:      rooms,
		store:      st,
		characters: characters,
		gen:        gen,
		memory:     memory,
		publisher:  publisher,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessTurn persists the user's message, generates and persists the
// character's reply and queues the message for scoring.
func (s *Service) ProcessTurn(ctx context.Context, userID, roomID, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	unlock := s.rooms.Lock(roomID)
	defer unlock()

	room, err := s.rooms.Get(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if room.EndingReached {
		return nil, ErrEndingReached
	}
	c, ok := s.characters.FindByID(room.CharacterID)
	if !ok {
		return nil, fmt.Errorf("character %s of room %s is not loaded", room.CharacterID, roomID)
	}

	userMsg := &chat.Message{RoomID: roomID, Role: chat.RoleUser, RawContent: text, CleanContent: text}
	energyLeft, err := s.store.BeginTurn(ctx, store.TurnStart{
		UserID:  userID,
		Cost:    s.cfg.TurnEnergyCost,
		Strict:  s.cfg.EnergyPolicy == EnergyStrict,
		Message: userMsg,
	})
	if errors.Is(err, store.ErrInsufficientEnergy) {
		return nil, ErrInsufficientEnergy
	}
	if err != nil {
		return nil, fmt.Errorf("begin turn: %w", err)
	}

	messages, err := s.buildMessages(ctx, userID, room, &c, text)
	if err != nil {
		return nil, err
	}

	model := c.Model
	if model == "" {
		model = s.cfg.Model
	}
	raw, err := s.gen.Complete(ctx, ai.Request{Model: model, Messages: messages, Temperature: s.cfg.Temperature})
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	parsed := emotion.Parse(raw)
	reply := &chat.Message{
		RoomID:       roomID,
		Role:         chat.RoleAssistant,
		RawContent:   raw,
		CleanContent: parsed.Clean,
		EmotionTag:   string(parsed.Emotion),
	}
	if err := s.store.AppendMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("save reply: %w", err)
	}
	if err := s.store.TouchRoom(ctx, roomID, string(parsed.Emotion), s.now()); err != nil {
		slog.Warn("touch room failed", "room_id", roomID, "error", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(affection.Event{RoomID: roomID, UserText: text})
	}
	s.maybeSummarize(ctx, roomID, userID)

	slog.Info("turn processed", "room_id", roomID, "user_id", userID, "emotion", parsed.Emotion, "reply_len", len(parsed.Clean))

	return &TurnResult{
		Reply:      parsed.Clean,
		Direction:  parsed.Direction,
		Emotion:    parsed.Emotion,
		Score:      room.Affection,
		Tier:       relationship.TierFromScore(room.Affection),
		EnergyLeft: energyLeft,
		EndingHint: relationship.EndingHint(room.Affection),
		Message:    reply,
	}, nil
}

func (s *Service) buildMessages(ctx context.Context, userID string, room *chat.Room, c *character.Character, text string) ([]*schema.Message, error) {
	var memory string
	if room.Mode.UsesMemory() && s.memory != nil {
		memory = s.memory.Retrieve(ctx, userID, text)
	}

	system := ai.BuildSystemPrompt(ai.PromptInput{
		Character: c,
		Score:     room.Affection,
		Tier:      relationship.TierFromScore(room.Affection),
		Mode:      room.Mode,
		Location:  room.Location,
		Outfit:    room.Outfit,
		Memory:    memory,
	})

	history, err := s.store.RecentMessages(ctx, room.ID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, schema.SystemMessage(system))
	messages = append(messages, ai.HistoryMessages(history, s.cfg.HistoryLimit)...)
	return messages, nil
}

// maybeSummarize schedules a summary each time the log crosses a multiple of
// SummaryInterval during this turn.
func (s *Service) maybeSummarize(ctx context.Context, roomID, userID string) {
	if s.memory == nil || s.cfg.SummaryInterval <= 0 {
		return
	}
	count, err := s.store.CountMessages(ctx, roomID)
	if err != nil {
		slog.Warn("count messages failed", "room_id", roomID, "error", err)
		return
	}
	if count/s.cfg.SummaryInterval > (count-2)/s.cfg.SummaryInterval {
		s.memory.Schedule(roomID, userID)
	}
}
