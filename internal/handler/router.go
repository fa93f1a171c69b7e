package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/heartline/backend/internal/handler/character"
	"github.com/zhouzirui/heartline/backend/internal/handler/live"
	"github.com/zhouzirui/heartline/backend/internal/handler/profile"
	"github.com/zhouzirui/heartline/backend/internal/handler/room"
	middlewarePkg "github.com/zhouzirui/heartline/backend/internal/middleware"
	characterModel "github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 汇总路由需要的服务
type Deps struct {
	Characters   characterModel.Store
	Rooms        room.Rooms
	Turns        room.Turns
	Endings      room.Endings
	Users        profile.Users
	Memory       profile.Memory
	Achievements profile.Achievements
	Live         *live.Hub
	Health       Pinger
	// AllowedOrigins 为空或包含 "*" 时允许任意来源。
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health.Ping(ctx); err != nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "storage unavailable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		character.New(d.Characters).RegisterRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.RequireUser)

			room.New(d.Rooms, d.Turns, d.Endings).RegisterRoutes(authed)
			profile.New(d.Users, d.Memory, d.Achievements).RegisterRoutes(authed)
			if d.Live != nil {
				d.Live.RegisterRoutes(authed)
			}
		})
	})

	return r
}
