package handlers

import (
	"log/slog"
	"net/http"

	"github.com/denhq/control-plane/internal/api/middleware"
)

// UserHandler serves the current user's profile.
type UserHandler struct {
	logger *slog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(logger *slog.Logger) *UserHandler {
	return &UserHandler{logger: logger}
}

// Me returns the authenticated user's profile.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())
	WriteJSON(w, http.StatusOK, user)
}
