package achievement

import (
	"context"
	"log/slog"

	"github.com/zhouzirui/heartline/backend/internal/model/user"
)

// 成就代码前缀。
const (
	RelationPrefix = "RELATION_"
	EndingPrefix   = "ENDING_"
)

// Store 是成就的持久化接口。
type Store interface {
	UnlockAchievement(ctx context.Context, userID, code string) (bool, error)
	ListAchievements(ctx context.Context, userID string) ([]user.Achievement, error)
}

// Service 记录成就解锁，重复解锁不会产生新记录。
type Service struct {
	store Store
}

// NewService 创建成就服务。
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Unlock 幂等地解锁成就。
func (s *Service) Unlock(ctx context.Context, userID, code string) error {
	created, err := s.store.UnlockAchievement(ctx, userID, code)
	if err != nil {
		return err
	}
	if created {
		slog.Info("achievement unlocked", "user_id", userID, "code", code)
	}
	return nil
}

// List 返回用户已解锁的成就。
func (s *Service) List(ctx context.Context, userID string) ([]user.Achievement, error) {
	list, err := s.store.ListAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []user.Achievement{}
	}
	return list, nil
}
