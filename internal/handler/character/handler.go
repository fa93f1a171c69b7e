package character

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

// Handler 角色服务的HTTP处理器
type Handler struct {
	characters character.Store
}

// New 创建角色处理器
func New(characters character.Store) *Handler {
	return &Handler{characters: characters}
}

// RegisterRoutes 注册角色相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/characters", h.handleList)
}

// handleList 列出所有角色，系统提示词不会序列化。
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.characters.List())
}
