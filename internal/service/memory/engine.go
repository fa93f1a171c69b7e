// Package memory keeps long-term conversation summaries per user and
// retrieves the relevant ones for prompts.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/model/memory"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
)

// Generator is the part of the generation gateway the engine needs.
type Generator interface {
	Complete(ctx context.Context, req ai.Request) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore stores and searches namespaced vectors.
type VectorStore interface {
	Upsert(ctx context.Context, rec memory.Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]memory.Match, error)
}

// LogReader reads rooms and their message log.
type LogReader interface {
	GetRoom(ctx context.Context, roomID string) (*chat.Room, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}

// Config tunes the engine.
type Config struct {
	TopK         int
	Window       int
	SummaryModel string
	// Timeout bounds one background summarization.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.Window <= 0 {
		c.Window = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// Engine retrieves and writes long-term memories. Failures never reach the
// caller: they are logged and turned into empty results.
type Engine struct {
	gen        Generator
	vectors    VectorStore
	log        LogReader
	characters character.Store
	cfg        Config
	summary    prompt.ChatTemplate

	wg sync.WaitGroup
}

// NewEngine creates an Engine. characters supplies display names for the
// summary prompt and may be nil.
func NewEngine(gen Generator, vectors VectorStore, log LogReader, characters character.Store, cfg Config) *Engine {
	return &Engine{
		gen:        gen,
		vectors:    vectors,
		log:        log,
		characters: characters,
		cfg:        cfg.withDefaults(),
		summary: prompt.FromMessages(schema.GoTemplate,
			schema.SystemMessage(`You condense chat logs into long-term memory. Write 1-2 short factual sentences about the user: preferences, plans, events and feelings they shared. Do not invent anything. Write in the language of the conversation.`),
			schema.UserMessage(`Conversation with {{.character}}:
{{.transcript}}`),
		),
	}
}

// Recall returns the summaries of the most relevant memories, best first.
func (e *Engine) Recall(ctx context.Context, userID, query string) []string {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	vector, err := e.gen.Embed(ctx, query)
	if err != nil {
		slog.Warn("memory recall embed failed", "user_id", userID, "error", err)
		return nil
	}

	matches, err := e.vectors.Query(ctx, memory.Namespace(userID), vector, e.cfg.TopK, nil)
	if err != nil {
		slog.Warn("memory recall query failed", "user_id", userID, "error", err)
		return nil
	}

	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		if summary := strings.TrimSpace(m.Metadata[memory.MetaSummary]); summary != "" {
			lines = append(lines, summary)
		}
	}
	return lines
}

// Retrieve formats Recall as "- summary" bullet lines, or "" when nothing is found.
func (e *Engine) Retrieve(ctx context.Context, userID, query string) string {
	return FormatBullets(e.Recall(ctx, userID, query))
}

// FormatBullets joins lines as a bullet list.
func FormatBullets(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(line)
	}
	return b.String()
}

// SummarizeAndStore summarizes the latest window of a room and stores it in
// the user's namespace.
func (e *Engine) SummarizeAndStore(ctx context.Context, roomID, userID string) {
	if err := e.summarize(ctx, roomID, userID); err != nil {
		slog.Warn("memory summarize failed", "room_id", roomID, "user_id", userID, "error", err)
	}
}

func (e *Engine) summarize(ctx context.Context, roomID, userID string) error {
	room, err := e.log.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	entries, err := e.log.RecentMessages(ctx, roomID, e.cfg.Window)
	if err != nil {
		return err
	}
	transcript := formatTranscript(entries)
	if transcript == "" {
		return nil
	}

	messages, err := e.summary.Format(ctx, map[string]any{
		"character":  e.characterName(room.CharacterID),
		"transcript": transcript,
	})
	if err != nil {
		return fmt.Errorf("format summary prompt: %w", err)
	}

	text, err := e.gen.Complete(ctx, ai.Request{Model: e.cfg.SummaryModel, Messages: messages, Temperature: 0.3})
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty summary")
	}

	vector, err := e.gen.Embed(ctx, text)
	if err != nil {
		return err
	}

	rec := memory.Record{
		ID:        uuid.NewString(),
		Namespace: memory.Namespace(userID),
		Vector:    vector,
		Metadata: map[string]string{
			memory.MetaSummary:     text,
			memory.MetaRoomID:      roomID,
			memory.MetaCharacterID: room.CharacterID,
		},
	}
	if err := e.vectors.Upsert(ctx, rec); err != nil {
		return err
	}
	slog.Info("memory stored", "room_id", roomID, "user_id", userID, "memory_id", rec.ID)
	return nil
}

func (e *Engine) characterName(id string) string {
	if e.characters == nil {
		return id
	}
	if c, ok := e.characters.FindByID(id); ok && c.Name != "" {
		return c.Name
	}
	return id
}

// Schedule runs SummarizeAndStore in the background with its own timeout.
func (e *Engine) Schedule(roomID, userID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
		defer cancel()
		e.SummarizeAndStore(ctx, roomID, userID)
	}()
}

// Wait blocks until every scheduled summarization has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func formatTranscript(entries []chat.Message) string {
	var b strings.Builder
	for _, m := range entries {
		var speaker string
		switch m.Role {
		case chat.RoleUser:
			speaker = "User"
		case chat.RoleAssistant:
			speaker = "Character"
		default:
			continue
		}
		text := m.CleanContent
		if text == "" {
			text = m.RawContent
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, text)
	}
	return strings.TrimSpace(b.String())
}
