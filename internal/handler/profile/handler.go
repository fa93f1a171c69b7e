package profile

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/heartline/backend/internal/handler/httperr"
	"github.com/zhouzirui/heartline/backend/internal/middleware"
	"github.com/zhouzirui/heartline/backend/internal/model/user"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

// Users 读取用户信息
type Users interface {
	GetUser(ctx context.Context, userID string) (*user.User, error)
}

// Memory 检索长期记忆
type Memory interface {
	Retrieve(ctx context.Context, userID, query string) string
}

// Achievements 列出成就
type Achievements interface {
	List(ctx context.Context, userID string) ([]user.Achievement, error)
}

// Handler 用户维度的HTTP处理器
type Handler struct {
	users        Users
	memory       Memory
	achievements Achievements
}

// New 创建处理器，memory 为 nil 时检索接口返回空结果
func New(users Users, memory Memory, achievements Achievements) *Handler {
	return &Handler{users: users, memory: memory, achievements: achievements}
}

// RegisterRoutes 注册用户相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.handleMe)
	r.Get("/memories", h.handleMemories)
	r.Get("/achievements", h.handleAchievements)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

// handleMemories 按查询语句检索记忆，检索失败时返回空字符串
func (h *Handler) handleMemories(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		utils.RespondError(w, http.StatusBadRequest, "q is required")
		return
	}

	var memory string
	if h.memory != nil {
		memory = h.memory.Retrieve(r.Context(), middleware.UserID(r.Context()), query)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"memory": memory})
}

func (h *Handler) handleAchievements(w http.ResponseWriter, r *http.Request) {
	list, err := h.achievements.List(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, list)
}
