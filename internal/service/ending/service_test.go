package ending

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/achievement"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	"github.com/zhouzirui/heartline/backend/internal/service/room"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

type stubMemory struct {
	lines []string
}

func (m stubMemory) Recall(context.Context, string, string) []string {
	return m.lines
}

type stageGenerator struct {
	mu        sync.Mutex
	transform func() (string, error)
	scenes    func() (string, error)
	title     func() (string, error)
	temps     map[string]float32
}

func (g *stageGenerator) Complete(_ context.Context, req ai.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	system := req.Messages[0].Content
	var stage string
	var fn func() (string, error)
	switch {
	case strings.Contains(system, "first-person recollection"):
		stage, fn = "transform", g.transform
	case strings.Contains(system, "JSON only"):
		stage, fn = "scenes", g.scenes
	default:
		stage, fn = "title", g.title
	}
	if g.temps == nil {
		g.temps = map[string]float32{}
	}
	g.temps[stage] = req.Temperature
	if fn == nil {
		return "", errors.New("unexpected call")
	}
	return fn()
}

func reply(text string) func() (string, error) {
	return func() (string, error) { return text, nil }
}

func failure() (string, error) {
	return "", &ai.ExternalServiceError{Op: "complete", Attempts: 4, Err: errors.New("HTTP 503")}
}

const scenesJSON = "```json\n" + `{"scenes":[
 {"narration":"Cherry blossoms fall on the rooftop.","dialogue":"Stay.","emotion":"happy"},
 {"narration":"You share strawberry milk.","emotion":"shy"},
 {"narration":"The library closes behind you.","dialogue":"Same time tomorrow?","emotion":"joy","location":"library"},
 {"narration":"","dialogue":"dropped"},
 {"narration":"Fireworks over the river.","emotion":"surprised"}
],"closingQuote":"I'm glad it was you."}` + "\n```"

type fixture struct {
	svc    *Service
	store  *store.Store
	roomID string
	gen    *stageGenerator
}

func newFixture(t *testing.T, memories []string, gen *stageGenerator) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	characters := character.NewMemoryStore([]character.Character{{ID: "haeun", Name: "Haeun", Title: "class president"}})
	rooms := room.NewService(s, characters, room.Config{StartingEnergy: 10})
	opened, err := rooms.Open(ctx, "u1", "haeun")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, &chat.Message{RoomID: opened.ID, Role: chat.RoleUser, RawContent: "hi", CleanContent: "hi"}))

	svc := NewService(rooms, s, characters, stubMemory{lines: memories}, gen, achievement.NewService(s), Config{Model: "ending-model"})
	return &fixture{svc: svc, store: s, roomID: opened.ID, gen: gen}
}

func TestGenerateFallsBackToRawMemories(t *testing.T) {
	gen := &stageGenerator{transform: failure, scenes: reply(scenesJSON), title: reply(`"Under the Cherry Blossoms"`)}
	raw := []string{"The user loves strawberry milk.", "We met in the library."}
	f := newFixture(t, raw, gen)

	epilogue, err := f.svc.Generate(context.Background(), "u1", f.roomID, "happy")
	require.NoError(t, err)

	assert.Equal(t, raw, epilogue.Memories)
	assert.Equal(t, Happy, epilogue.Type)
	assert.Equal(t, "Under the Cherry Blossoms", epilogue.Title)
	assert.Equal(t, "I'm glad it was you.", epilogue.ClosingQuote)
}

func TestGenerateFullPipeline(t *testing.T) {
	gen := &stageGenerator{
		transform: reply("- I still remember your strawberry milk.\n- 2. The library where we met."),
		scenes:    reply(scenesJSON),
		title:     reply("「Under the Cherry Blossoms」\nextra line"),
	}
	f := newFixture(t, []string{"The user loves strawberry milk.", "We met in the library."}, gen)
	ctx := context.Background()

	epilogue, err := f.svc.Generate(ctx, "u1", f.roomID, "HAPPY")
	require.NoError(t, err)

	assert.Equal(t, []string{"I still remember your strawberry milk.", "The library where we met."}, epilogue.Memories)
	require.Len(t, epilogue.Scenes, 4)
	assert.Equal(t, emotion.Joy, epilogue.Scenes[0].Emotion)
	assert.Equal(t, emotion.Shy, epilogue.Scenes[1].Emotion)
	assert.Equal(t, "library", epilogue.Scenes[2].Location)
	assert.Equal(t, "Under the Cherry Blossoms", epilogue.Title)
	assert.Equal(t, "Haeun", epilogue.CharacterName)

	assert.Equal(t, 1, epilogue.Stats.MessageCount)
	assert.NotNil(t, epilogue.Stats.FirstMessageAt)
	assert.Equal(t, "STRANGER", string(epilogue.Stats.FinalTier))

	assert.InDelta(t, 1.0, gen.temps["title"], 1e-6)

	stored, err := f.store.GetRoom(ctx, f.roomID)
	require.NoError(t, err)
	assert.True(t, stored.EndingReached)
	assert.Equal(t, "HAPPY", stored.EndingType)
	assert.Equal(t, "Under the Cherry Blossoms", stored.EndingTitle)

	log, err := f.store.RecentMessages(ctx, f.roomID, 1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, chat.RoleSystem, log[0].Role)

	list, err := f.store.ListAchievements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ENDING_HAPPY", list[0].Code)

	_, err = f.svc.Generate(ctx, "u1", f.roomID, "SAD")
	assert.ErrorIs(t, err, ErrAlreadyEnded)
}

func TestGenerateTransformKeepsCount(t *testing.T) {
	gen := &stageGenerator{
		transform: reply("only one line\n"),
		scenes:    reply(scenesJSON),
		title:     reply("t"),
	}
	raw := []string{"a", "b", "c"}
	f := newFixture(t, raw, gen)

	epilogue, err := f.svc.Generate(context.Background(), "u1", f.roomID, "SAD")
	require.NoError(t, err)
	assert.Equal(t, []string{"only one line", "b", "c"}, epilogue.Memories)
}

func TestGenerateSceneParseFailureUsesFallback(t *testing.T) {
	gen := &stageGenerator{scenes: reply("I cannot write JSON today."), title: reply("   ")}
	f := newFixture(t, nil, gen)

	epilogue, err := f.svc.Generate(context.Background(), "u1", f.roomID, "SAD")
	require.NoError(t, err)

	require.Len(t, epilogue.Scenes, 1)
	assert.Equal(t, emotion.Sad, epilogue.Scenes[0].Emotion)
	assert.Equal(t, fallbackQuote(Sad), epilogue.ClosingQuote)
	assert.Equal(t, fallbackTitle(Sad), epilogue.Title)
	assert.Empty(t, epilogue.Memories)
	assert.NotContains(t, gen.temps, "transform")
}

func TestGenerateTitleFailureAborts(t *testing.T) {
	gen := &stageGenerator{scenes: reply(scenesJSON), title: failure}
	f := newFixture(t, nil, gen)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, "u1", f.roomID, "HAPPY")
	assert.ErrorIs(t, err, ai.ErrExternalService)

	stored, err := f.store.GetRoom(ctx, f.roomID)
	require.NoError(t, err)
	assert.False(t, stored.EndingReached)
}

func TestGenerateRejectsInvalidType(t *testing.T) {
	f := newFixture(t, nil, &stageGenerator{})
	_, err := f.svc.Generate(context.Background(), "u1", f.roomID, "BITTERSWEET")
	assert.ErrorIs(t, err, ErrInvalidEndingType)
}

func TestParseScenesAcceptsBareArray(t *testing.T) {
	scenes, quote := parseScenes(`Here you go: [{"narration":"a"},{"narration":"b"},{"narration":"c"}]`)
	assert.Len(t, scenes, 3)
	assert.Empty(t, quote)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Spring", cleanTitle(`  "Spring"  `, Happy))
	assert.Equal(t, "Spring", cleanTitle("‘Spring’", Happy))
	assert.Equal(t, fallbackTitle(Happy), cleanTitle(`""`, Happy))
}
