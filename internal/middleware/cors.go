package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS 允许前端跨域访问 API，allowed 为空或含 "*" 时放行任意来源。
func CORS(allowed []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", UserHeader, "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         600,
	})
}
