package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

type userKey struct{}

// RequireUser rejects requests without a user id. Browsers cannot set headers
// on a websocket handshake, so the userId query parameter is accepted as well.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			id = strings.TrimSpace(r.URL.Query().Get("userId"))
		}
		if id == "" {
			utils.RespondError(w, http.StatusUnauthorized, "X-User-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}

// WithUserID stores id in ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserID returns the id stored by RequireUser.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
