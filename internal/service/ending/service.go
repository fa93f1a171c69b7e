// Package ending generates the epilogue of a room and closes it.
package ending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/analysis/relationship"
	"github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/achievement"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

var (
	ErrInvalidEndingType = errors.New("ending type must be HAPPY or SAD")
	ErrAlreadyEnded      = errors.New("room has already reached its ending")
)

const (
	maxScenes      = 5
	minScenes      = 3
	transcriptSize = 10
	queryParallel  = 3
)

// Rooms resolves a room owned by the caller and serializes work on it.
type Rooms interface {
	Get(ctx context.Context, userID, roomID string) (*chat.Room, error)
	Lock(roomID string) (unlock func())
}

// Store is the persistence used by the pipeline.
type Store interface {
	CountMessages(ctx context.Context, roomID string) (int, error)
	FirstMessageAt(ctx context.Context, roomID string) (time.Time, bool, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
	FinalizeEnding(ctx context.Context, rec store.EndingRecord) error
}

// Memory recalls summaries for a query.
type Memory interface {
	Recall(ctx context.Context, userID, query string) []string
}

// Generator produces text.
type Generator interface {
	Complete(ctx context.Context, req ai.Request) (string, error)
}

// Achievements records the ending achievement.
type Achievements interface {
	Unlock(ctx context.Context, userID, code string) error
}

// Config tunes the pipeline.
type Config struct {
	Model string
}

// Service is the ending pipeline.
type Service struct {
	rooms        Rooms
	store        Store
	characters   character.Store
	memory       Memory
	gen          Generator
	achievements Achievements
	cfg          Config
	now          func() time.Time
}

// NewService wires the pipeline. achievements may be nil.
func NewService(rooms Rooms, st Store, characters character.Store, memory Memory, gen Generator, achievements Achievements, cfg Config) *Service {
	return &Service{
		rooms:        rooms,
		store:        st,
		characters:   characters,
		memory:       memory,
		gen:          gen,
		achievements: achievements,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Generate runs every stage and finalizes the room. Only generation
// failures of the scene and title stages abort the request. The room lock is
// held throughout, so no turn can land between the stats and the ending entry.
func (s *Service) Generate(ctx context.Context, userID, roomID, rawType string) (*Epilogue, error) {
	endingType, ok := ParseType(rawType)
	if !ok {
		return nil, fmt.Errorf("%q: %w", rawType, ErrInvalidEndingType)
	}

	unlock := s.rooms.Lock(roomID)
	defer unlock()

	room, err := s.rooms.Get(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if room.EndingReached {
		return nil, ErrAlreadyEnded
	}
	c, ok := s.characters.FindByID(room.CharacterID)
	if !ok {
		return nil, fmt.Errorf("character %s of room %s is not loaded", room.CharacterID, roomID)
	}
	model := c.Model
	if model == "" {
		model = s.cfg.Model
	}

	raw := s.collectMemories(ctx, userID)
	memories := s.transformMemories(ctx, model, &c, endingType, raw)

	scenes, quote, err := s.generateScenes(ctx, model, &c, room, endingType, memories)
	if err != nil {
		return nil, err
	}

	title, err := s.generateTitle(ctx, model, &c, endingType, scenes)
	if err != nil {
		return nil, err
	}

	stats, err := s.collectStats(ctx, room)
	if err != nil {
		return nil, err
	}

	err = s.store.FinalizeEnding(ctx, store.EndingRecord{
		RoomID: roomID,
		Type:   string(endingType),
		Title:  title,
		Message: &chat.Message{
			RawContent:   fmt.Sprintf("[ENDING:%s] %s", endingType, title),
			CleanContent: title,
		},
	})
	if errors.Is(err, store.ErrEndingExists) {
		return nil, ErrAlreadyEnded
	}
	if err != nil {
		return nil, fmt.Errorf("finalize ending: %w", err)
	}

	if s.achievements != nil {
		code := achievement.EndingPrefix + string(endingType)
		if err := s.achievements.Unlock(ctx, userID, code); err != nil {
			slog.Warn("unlock ending achievement failed", "user_id", userID, "code", code, "error", err)
		}
	}

	slog.Info("ending generated", "room_id", roomID, "type", endingType, "title", title,
		"memories", len(memories), "scenes", len(scenes))

	return &Epilogue{
		RoomID:        roomID,
		CharacterID:   c.ID,
		CharacterName: c.Name,
		Type:          endingType,
		Title:         title,
		Scenes:        scenes,
		Memories:      memories,
		ClosingQuote:  quote,
		Stats:         stats,
	}, nil
}

// collectMemories runs the fixed queries concurrently and dedupes the lines
// in query order.
func (s *Service) collectMemories(ctx context.Context, userID string) []string {
	if s.memory == nil {
		return nil
	}

	results := make([][]string, len(memoryQueries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(queryParallel)
	for i, q := range memoryQueries {
		g.Go(func() error {
			results[i] = s.memory.Recall(gctx, userID, q)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	var lines []string
	for _, batch := range results {
		for _, line := range batch {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, dup := seen[line]; dup {
				continue
			}
			seen[line] = struct{}{}
			lines = append(lines, line)
		}
	}
	return lines
}

var listMarker = regexp.MustCompile(`^\s*(?:(?:[-*•]|\d+[.)])\s*)+`)

// transformMemories rewrites memories in the ending's mood. It falls back to
// the raw lines and always returns len(raw) lines.
func (s *Service) transformMemories(ctx context.Context, model string, c *character.Character, t Type, raw []string) []string {
	if len(raw) == 0 {
		return []string{}
	}

	out := append([]string(nil), raw...)
	messages, err := transformTemplate.Format(ctx, map[string]any{
		"name":     c.Name,
		"mood":     t.mood(),
		"count":    len(raw),
		"memories": bulletList(raw),
	})
	if err != nil {
		slog.Warn("format transform prompt failed", "error", err)
		return out
	}

	reply, err := s.gen.Complete(ctx, ai.Request{Model: model, Messages: messages, Temperature: 0.7})
	if err != nil {
		slog.Warn("memory transform failed, using raw memories", "error", err)
		return out
	}

	var transformed []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line != "" {
			transformed = append(transformed, line)
		}
	}
	for i := range out {
		if i < len(transformed) {
			out[i] = transformed[i]
		}
	}
	return out
}

func (s *Service) generateScenes(ctx context.Context, model string, c *character.Character, room *chat.Room, t Type, memories []string) ([]Scene, string, error) {
	log, err := s.store.RecentMessages(ctx, room.ID, transcriptSize)
	if err != nil {
		return nil, "", fmt.Errorf("load transcript: %w", err)
	}

	messages, err := scenesTemplate.Format(ctx, map[string]any{
		"name":       c.Name,
		"title":      c.Title,
		"tone":       c.Tone,
		"type":       string(t),
		"mood":       t.mood(),
		"tier":       string(relationship.TierFromScore(room.Affection)),
		"score":      strconv.Itoa(room.Affection),
		"memories":   orNone(bulletList(memories)),
		"transcript": orNone(transcript(log, c.Name)),
	})
	if err != nil {
		return nil, "", fmt.Errorf("format scenes prompt: %w", err)
	}

	reply, err := s.gen.Complete(ctx, ai.Request{Model: model, Messages: messages, Temperature: 0.8})
	if err != nil {
		return nil, "", fmt.Errorf("generate scenes: %w", err)
	}

	scenes, quote := parseScenes(reply)
	if len(scenes) < minScenes {
		slog.Warn("epilogue scenes unusable, using fallback", "room_id", room.ID, "parsed", len(scenes))
		scenes = []Scene{fallbackScene(t, c.Name)}
	}
	if quote == "" {
		quote = fallbackQuote(t)
	}
	return scenes, quote, nil
}

// parseScenes reads the scene payload leniently: code fences and prose around
// the JSON are ignored, and scenes without narration are dropped.
func parseScenes(reply string) ([]Scene, string) {
	payload := extractJSON(reply)
	if payload == "" || !gjson.Valid(payload) {
		return nil, ""
	}

	root := gjson.Parse(payload)
	list := root.Get("scenes")
	if root.IsArray() {
		list = root
	}

	var scenes []Scene
	list.ForEach(func(_, item gjson.Result) bool {
		narration := strings.TrimSpace(item.Get("narration").String())
		if narration == "" {
			return true
		}
		scenes = append(scenes, Scene{
			Narration: narration,
			Dialogue:  strings.TrimSpace(item.Get("dialogue").String()),
			Emotion:   emotion.ParseLabel(item.Get("emotion").String()),
			Location:  strings.TrimSpace(item.Get("location").String()),
			Outfit:    strings.TrimSpace(item.Get("outfit").String()),
			Mood:      strings.TrimSpace(item.Get("mood").String()),
		})
		return len(scenes) < maxScenes
	})

	quote := strings.TrimSpace(root.Get("closingQuote").String())
	return scenes, quote
}

func extractJSON(reply string) string {
	start := strings.IndexAny(reply, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if reply[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(reply, closer)
	if end <= start {
		return ""
	}
	return reply[start : end+1]
}

const quoteChars = "\"'`“”‘’「」『』《》"

func (s *Service) generateTitle(ctx context.Context, model string, c *character.Character, t Type, scenes []Scene) (string, error) {
	var summary strings.Builder
	for _, sc := range scenes {
		summary.WriteString(sc.Narration)
		summary.WriteByte('\n')
	}

	messages, err := titleTemplate.Format(ctx, map[string]any{
		"type":    string(t),
		"name":    c.Name,
		"summary": summary.String(),
	})
	if err != nil {
		return "", fmt.Errorf("format title prompt: %w", err)
	}

	reply, err := s.gen.Complete(ctx, ai.Request{Model: model, Messages: messages, Temperature: 1.0})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	return cleanTitle(reply, t), nil
}

func cleanTitle(reply string, t Type) string {
	title, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), quoteChars))
	if title == "" {
		return fallbackTitle(t)
	}
	return title
}

func (s *Service) collectStats(ctx context.Context, room *chat.Room) (Stats, error) {
	count, err := s.store.CountMessages(ctx, room.ID)
	if err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	stats := Stats{
		MessageCount: count,
		FinalScore:   room.Affection,
		FinalTier:    relationship.TierFromScore(room.Affection),
	}

	first, ok, err := s.store.FirstMessageAt(ctx, room.ID)
	if err != nil {
		return Stats{}, fmt.Errorf("first message: %w", err)
	}
	if ok {
		stats.FirstMessageAt = &first
		stats.DaysTogether = max(int(s.now().Sub(first).Hours()/24), 0)
	}
	return stats, nil
}

func bulletList(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func transcript(log []chat.Message, name string) string {
	var b strings.Builder
	for _, m := range log {
		switch m.Role {
		case chat.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.CleanContent)
		case chat.RoleAssistant:
			fmt.Fprintf(&b, "%s: %s\n", name, m.CleanContent)
		}
	}
	return strings.TrimSpace(b.String())
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
