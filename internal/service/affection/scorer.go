// Package affection scores user messages in the background and moves the
// relationship score.
package affection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/heartline/backend/internal/analysis/relationship"
	"github.com/zhouzirui/heartline/backend/internal/service/achievement"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

// MaxDelta 是单条消息能带来的最大好感度变化。
const MaxDelta = 5

// Event 是一次待评分的用户发言。
type Event struct {
	RoomID   string
	UserText string
}

// Update 描述一次已落库的好感度变化，推送给实时通道。
type Update struct {
	RoomID      string               `json:"roomId"`
	UserID      string               `json:"userId"`
	CharacterID string               `json:"characterId"`
	Delta       int                  `json:"delta"`
	Score       int                  `json:"score"`
	Tier        relationship.Tier    `json:"tier"`
	Promoted    bool                 `json:"promoted"`
	Unlocks     relationship.Unlocks `json:"unlocks"`
	EndingHint  string               `json:"endingHint,omitempty"`
}

// Generator 是评分所需的模型调用。
type Generator interface {
	Complete(ctx context.Context, req ai.Request) (string, error)
}

// Store 负责原子地应用分数变化。
type Store interface {
	ApplyAffectionDelta(ctx context.Context, roomID string, delta int) (store.AffectionChange, error)
}

// Notifier 接收好感度变化通知。
type Notifier interface {
	NotifyAffection(update Update)
}

// Achievements 在关系升级时解锁成就。
type Achievements interface {
	Unlock(ctx context.Context, userID, code string) error
}

// Config 控制评分队列。
type Config struct {
	Workers   int
	QueueSize int
	Model     string
	Timeout   time.Duration
}

// Scorer 在后台消费事件并更新好感度。事件至多处理一次，队列满时直接丢弃。
type Scorer struct {
	gen          Generator
	store        Store
	notifier     Notifier
	achievements Achievements
	cfg          Config
	template     prompt.ChatTemplate

	queue  chan Event
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewScorer 创建评分器。notifier 与 achievements 可以为 nil。
func NewScorer(gen Generator, st Store, notifier Notifier, achievements Achievements, cfg Config) *Scorer {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Scorer{
		gen:          gen,
		store:        st,
		notifier:     notifier,
		achievements: achievements,
		cfg:          cfg,
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage(scoringSystemPrompt),
			schema.UserMessage("{message}"),
		),
		queue: make(chan Event, cfg.QueueSize),
	}
}

const scoringSystemPrompt = `You judge how a message from the user would change a dating-sim character's affection toward them.
Kind, attentive or flirty messages raise it; rude, dismissive or hurtful ones lower it; small talk is 0.
Answer with a single integer between -5 and +5 and nothing else.`

// Start 启动后台 worker。
func (s *Scorer) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for ev := range s.queue {
				s.handle(ctx, ev)
			}
		}()
	}
	slog.Info("affection scorer started", "workers", s.cfg.Workers, "queue", s.cfg.QueueSize)
}

// Publish 非阻塞地投递事件，返回是否入队成功。
func (s *Scorer) Publish(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- ev:
		return true
	default:
		slog.Warn("affection queue full, event dropped", "room_id", ev.RoomID)
		return false
	}
}

// Close 停止接收新事件，并等待队列中的事件处理完毕。
func (s *Scorer) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scorer) handle(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if _, err := s.Score(ctx, ev); err != nil {
		slog.Warn("affection scoring failed", "room_id", ev.RoomID, "error", err)
	}
}

// Score 对单个事件评分并落库。模型调用失败时按 0 处理，房间不存在时忽略。
func (s *Scorer) Score(ctx context.Context, ev Event) (store.AffectionChange, error) {
	delta := s.rate(ctx, ev)

	change, err := s.store.ApplyAffectionDelta(ctx, ev.RoomID, delta)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("affection event for missing room ignored", "room_id", ev.RoomID)
		return change, nil
	}
	if err != nil {
		return change, fmt.Errorf("apply affection delta: %w", err)
	}
	if !change.Changed() {
		return change, nil
	}

	promoted := relationship.IsPromotion(change.FromTier, change.ToTier)
	slog.Info("affection updated",
		"room_id", ev.RoomID, "delta", delta, "score", change.After, "tier", change.ToTier, "promoted", promoted)

	if s.notifier != nil {
		s.notifier.NotifyAffection(Update{
			RoomID:      change.RoomID,
			UserID:      change.UserID,
			CharacterID: change.CharacterID,
			Delta:       change.After - change.Before,
			Score:       change.After,
			Tier:        change.ToTier,
			Promoted:    promoted,
			Unlocks:     relationship.UnlocksBetween(change.FromTier, change.ToTier),
			EndingHint:  relationship.EndingHint(change.After),
		})
	}

	if promoted && s.achievements != nil {
		code := achievement.RelationPrefix + string(change.ToTier)
		if err := s.achievements.Unlock(ctx, change.UserID, code); err != nil {
			slog.Warn("unlock achievement failed", "user_id", change.UserID, "code", code, "error", err)
		}
	}
	return change, nil
}

func (s *Scorer) rate(ctx context.Context, ev Event) int {
	text := strings.TrimSpace(ev.UserText)
	if text == "" {
		return 0
	}

	messages, err := s.template.Format(ctx, map[string]any{"message": text})
	if err != nil {
		slog.Warn("format scoring prompt failed", "error", err)
		return 0
	}

	raw, err := s.gen.Complete(ctx, ai.Request{Model: s.cfg.Model, Messages: messages, Temperature: 0})
	if err != nil {
		slog.Warn("affection gateway call failed, delta=0", "room_id", ev.RoomID, "error", err)
		return 0
	}
	return ParseDelta(raw)
}

// ParseDelta 只保留数字与正负号后解析，无法解析时返回 0，结果限制在 [-MaxDelta, MaxDelta]。
func ParseDelta(raw string) int {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' || r == '-' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return max(-MaxDelta, min(MaxDelta, n))
}
