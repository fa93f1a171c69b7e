package room

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/heartline/backend/internal/handler/httperr"
	"github.com/zhouzirui/heartline/backend/internal/middleware"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/heartline/backend/internal/service/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/ending"
	roomservice "github.com/zhouzirui/heartline/backend/internal/service/room"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

// Rooms 是房间处理器依赖的房间服务。
type Rooms interface {
	Open(ctx context.Context, userID, characterID string) (*roomservice.OpenResult, error)
	List(ctx context.Context, userID string) ([]roomservice.Snapshot, error)
	Get(ctx context.Context, userID, roomID string) (*chat.Room, error)
	Delete(ctx context.Context, userID, roomID string) error
	Transcript(ctx context.Context, userID, roomID string, limit int) ([]chat.Message, error)
	SetMode(ctx context.Context, userID, roomID, rawMode string) (*chat.Room, error)
	SetScene(ctx context.Context, userID, roomID, location, outfit string) (*chat.Room, error)
}

// Turns 处理一轮对话。
type Turns interface {
	ProcessTurn(ctx context.Context, userID, roomID, text string) (*chatservice.TurnResult, error)
}

// Endings 生成结局。
type Endings interface {
	Generate(ctx context.Context, userID, roomID, rawType string) (*ending.Epilogue, error)
}

// Handler 房间相关的HTTP处理器
type Handler struct {
	rooms   Rooms
	turns   Turns
	endings Endings
}

// New 创建房间处理器
func New(rooms Rooms, turns Turns, endings Endings) *Handler {
	return &Handler{rooms: rooms, turns: turns, endings: endings}
}

// RegisterRoutes 注册房间相关的路由，调用方负责挂载用户中间件。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/rooms", h.handleList)
	r.Post("/rooms", h.handleOpen)
	r.Get("/rooms/{roomID}", h.handleGet)
	r.Delete("/rooms/{roomID}", h.handleDelete)
	r.Get("/rooms/{roomID}/messages", h.handleMessages)
	r.Put("/rooms/{roomID}/mode", h.handleMode)
	r.Put("/rooms/{roomID}/scene", h.handleScene)
	r.Post("/rooms/{roomID}/turns", h.handleTurn)
	r.Post("/rooms/{roomID}/ending", h.handleEnding)
}

// handleOpen 创建或返回已有房间
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CharacterID string `json:"characterId"`
	}
	if !utils.DecodeJSON(w, r, &payload) {
		return
	}
	if payload.CharacterID == "" {
		utils.RespondError(w, http.StatusBadRequest, "characterId is required")
		return
	}

	result, err := h.rooms.Open(r.Context(), middleware.UserID(r.Context()), payload.CharacterID)
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	utils.RespondJSON(w, status, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.List(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, rooms)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Get(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "roomID"))
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, roomservice.NewSnapshot(room))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.rooms.Delete(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "roomID")); err != nil {
		httperr.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMessages 返回最近的对话记录，limit 缺省时返回全部
func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	messages, err := h.rooms.Transcript(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "roomID"), limit)
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleMode(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Mode string `json:"mode"`
	}
	if !utils.DecodeJSON(w, r, &payload) {
		return
	}

	room, err := h.rooms.SetMode(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "roomID"), payload.Mode)
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, roomservice.NewSnapshot(room))
}

func (h *Handler) handleScene(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Location string `json:"location"`
		Outfit   string `json:"outfit"`
	}
	if !utils.DecodeJSON(w, r, &payload) {
		return
	}

	room, err := h.rooms.SetScene(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "roomID"), payload.Location, payload.Outfit)
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, roomservice.NewSnapshot(room))
}

// handleTurn 处理用户发来的一条消息
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if !utils.DecodeJSON(w, r, &payload) {
		return
	}

	result, err := h.turns.ProcessTurn(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "roomID"), payload.Message)
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// handleEnding 生成结局尾声
func (h *Handler) handleEnding(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EndingType string `json:"endingType"`
	}
	if !utils.DecodeJSON(w, r, &payload) {
		return
	}

	epilogue, err := h.endings.Generate(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "roomID"), payload.EndingType)
	if err != nil {
		httperr.Write(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, epilogue)
}
