package affection

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/zhouzirui/heartline/backend/internal/analysis/relationship"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

type stubGenerator struct {
	reply string
	err   error
}

func (s stubGenerator) Complete(context.Context, ai.Request) (string, error) {
	return s.reply, s.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recordingNotifier) NotifyAffection(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

type recordingAchievements struct {
	codes []string
}

func (r *recordingAchievements) Unlock(_ context.Context, _ string, code string) error {
	r.codes = append(r.codes, code)
	return nil
}

func newRoom(t *testing.T) (*store.Store, *chat.Room) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.EnsureUser(ctx, "u1", 10); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	room, _, err := s.CreateRoom(ctx, "u1", "haeun")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return s, room
}

func TestParseDelta(t *testing.T) {
	cases := map[string]int{
		"+3":         3,
		"-10":        -5,
		"abc":        0,
		"":           0,
		"Score: +2.": 2,
		"7":          5,
		"-":          0,
	}
	for raw, want := range cases {
		if got := ParseDelta(raw); got != want {
			t.Fatalf("ParseDelta(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestScoreAppliesDeltaAndNotifies(t *testing.T) {
	s, room := newRoom(t)
	notifier := &recordingNotifier{}
	scorer := NewScorer(stubGenerator{reply: "+3"}, s, notifier, nil, Config{})

	change, err := scorer.Score(context.Background(), Event{RoomID: room.ID, UserText: "you look nice today"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if change.After != 3 {
		t.Fatalf("expected score 3, got %d", change.After)
	}
	if len(notifier.updates) != 1 || notifier.updates[0].Delta != 3 || notifier.updates[0].Promoted {
		t.Fatalf("unexpected updates: %+v", notifier.updates)
	}
}

func TestScorePromotionUnlocksAchievement(t *testing.T) {
	s, room := newRoom(t)
	ctx := context.Background()
	if _, err := s.ApplyAffectionDelta(ctx, room.ID, 18); err != nil {
		t.Fatalf("seed score: %v", err)
	}

	notifier := &recordingNotifier{}
	achievements := &recordingAchievements{}
	scorer := NewScorer(stubGenerator{reply: "5"}, s, notifier, achievements, Config{})

	if _, err := scorer.Score(ctx, Event{RoomID: room.ID, UserText: "I made you lunch"}); err != nil {
		t.Fatalf("score: %v", err)
	}

	if len(notifier.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(notifier.updates))
	}
	update := notifier.updates[0]
	if !update.Promoted || update.Tier != relationship.Acquaintance || update.Score != 23 {
		t.Fatalf("unexpected update: %+v", update)
	}
	if !slices.Contains(update.Unlocks.Locations, "cafe") {
		t.Fatalf("expected cafe unlock, got %+v", update.Unlocks)
	}
	if len(achievements.codes) != 1 || achievements.codes[0] != "RELATION_ACQUAINTANCE" {
		t.Fatalf("unexpected achievements: %v", achievements.codes)
	}
}

func TestScoreGatewayFailureIsNeutral(t *testing.T) {
	s, room := newRoom(t)
	notifier := &recordingNotifier{}
	scorer := NewScorer(stubGenerator{err: errors.New("down")}, s, notifier, nil, Config{})

	change, err := scorer.Score(context.Background(), Event{RoomID: room.ID, UserText: "hello"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if change.Changed() || len(notifier.updates) != 0 {
		t.Fatalf("expected no change, got %+v / %v", change, notifier.updates)
	}
}

func TestScoreMissingRoomIsNoop(t *testing.T) {
	s, _ := newRoom(t)
	scorer := NewScorer(stubGenerator{reply: "+1"}, s, nil, nil, Config{})
	if _, err := scorer.Score(context.Background(), Event{RoomID: "gone", UserText: "hi"}); err != nil {
		t.Fatalf("expected nil for missing room, got %v", err)
	}
}

func TestQueueDrainsOnClose(t *testing.T) {
	s, room := newRoom(t)
	notifier := &recordingNotifier{}
	scorer := NewScorer(stubGenerator{reply: "+1"}, s, notifier, nil, Config{Workers: 1, QueueSize: 8})
	scorer.Start(context.Background())

	for i := 0; i < 3; i++ {
		if !scorer.Publish(Event{RoomID: room.ID, UserText: "hi"}) {
			t.Fatalf("publish %d rejected", i)
		}
	}
	scorer.Close()

	if scorer.Publish(Event{RoomID: room.ID, UserText: "late"}) {
		t.Fatalf("publish after close should be rejected")
	}
	stored, err := s.GetRoom(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if stored.Affection != 3 {
		t.Fatalf("expected score 3 after drain, got %d", stored.Affection)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	scorer := NewScorer(stubGenerator{}, nil, nil, nil, Config{QueueSize: 1})
	if !scorer.Publish(Event{RoomID: "r"}) {
		t.Fatalf("first publish should fit")
	}
	if scorer.Publish(Event{RoomID: "r"}) {
		t.Fatalf("second publish should be dropped")
	}
}
