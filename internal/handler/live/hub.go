// Package live pushes asynchronous room updates to connected clients over
// websocket. The affection scorer finishes after the turn response has been
// sent, so its results only reach the client through this channel.
package live

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/heartline/backend/internal/handler/httperr"
	"github.com/zhouzirui/heartline/backend/internal/middleware"
	"github.com/zhouzirui/heartline/backend/internal/service/affection"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 16
)

// Authorizer checks room ownership before a connection is accepted.
type Authorizer interface {
	Authorize(ctx context.Context, userID, roomID string) error
}

// Event 是推送给客户端的消息
type Event struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans room events out to every connection subscribed to that room.
type Hub struct {
	auth     Authorizer
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub 创建推送中心
func NewHub(auth Authorizer) *Hub {
	return &Hub{
		auth: auth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		rooms: make(map[string]map[*client]struct{}),
	}
}

// RegisterRoutes 注册推送路由
func (h *Hub) RegisterRoutes(r chi.Router) {
	r.Get("/rooms/{roomID}/live", h.handleLive)
}

// NotifyAffection implements affection.Notifier.
func (h *Hub) NotifyAffection(u affection.Update) {
	h.Broadcast(u.RoomID, "affection", u)
}

// Broadcast queues an event for every subscriber of roomID. Slow clients
// whose buffer is full miss the event.
func (h *Hub) Broadcast(roomID, eventType string, data any) {
	ev := Event{Type: eventType, RoomID: roomID, Data: data, Timestamp: time.Now().Unix()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		select {
		case c.send <- ev:
		default:
			slog.Warn("live client lagging, event dropped", "room_id", roomID, "type", eventType)
		}
	}
}

// Subscribers returns the number of open connections for roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) register(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[*client]struct{})
		h.rooms[roomID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.rooms[roomID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.rooms, roomID)
	}
}

// handleLive 升级连接并在断开前持续推送
func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	userID := middleware.UserID(r.Context())
	if err := h.auth.Authorize(r.Context(), userID, roomID); err != nil {
		httperr.Write(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "room_id", roomID, "error", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan Event, sendBuffer)}
	h.register(roomID, c)
	defer h.unregister(roomID, c)
	slog.Info("live connection opened", "room_id", roomID, "user_id", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c.send <- Event{Type: "connected", RoomID: roomID, Timestamp: time.Now().Unix()}
	go h.writeLoop(ctx, c)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 客户端不发送业务消息，读循环只用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("live read error", "room_id", roomID, "error", err)
			}
			slog.Info("live connection closed", "room_id", roomID, "user_id", userID)
			return
		}
	}
}

// writeLoop 是唯一写连接的 goroutine
func (h *Hub) writeLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Warn("live write failed", "room_id", ev.RoomID, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
