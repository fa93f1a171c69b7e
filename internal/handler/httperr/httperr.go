// Package httperr maps service errors to HTTP statuses.
package httperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/heartline/backend/internal/service/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/ending"
	roomservice "github.com/zhouzirui/heartline/backend/internal/service/room"
	"github.com/zhouzirui/heartline/backend/internal/store"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

var badRequest = []error{
	roomservice.ErrInvalidMode,
	roomservice.ErrModeLocked,
	roomservice.ErrSceneLocked,
	chatservice.ErrEmptyMessage,
	chatservice.ErrEndingReached,
	ending.ErrInvalidEndingType,
	ending.ErrAlreadyEnded,
}

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, roomservice.ErrCharacterNotFound):
		return http.StatusNotFound
	case errors.Is(err, roomservice.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chatservice.ErrInsufficientEnergy):
		return http.StatusPaymentRequired
	case errors.Is(err, ai.ErrExternalService):
		return http.StatusBadGateway
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// Write responds with the status for err. Internal errors are logged and
// replaced by a generic message.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	status := Status(err)
	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	case http.StatusBadGateway:
		slog.Warn("upstream failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "generation service unavailable"
	}
	utils.RespondError(w, status, message)
}
