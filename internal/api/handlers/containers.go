package handlers

import (
	"log/slog"
	"net/http"

	"github.com/denhq/control-plane/internal/api/middleware"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/lifecycle"
)

// ContainerHandler serves the user's container view and port allocation.
type ContainerHandler struct {
	lifecycle *lifecycle.Service
	logger    *slog.Logger
}

// NewContainerHandler creates a new container handler.
func NewContainerHandler(lc *lifecycle.Service, logger *slog.Logger) *ContainerHandler {
	return &ContainerHandler{lifecycle: lc, logger: logger}
}

// Get returns the user's container, or {"status":"none"} when the user has
// not provisioned one yet. Absence is a normal state, not an error.
func (h *ContainerHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	container, err := h.lifecycle.Get(r.Context(), user.ID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "none"})
			return
		}
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, container)
}

// Ensure provisions the user's container if it does not exist yet and
// returns it either way.
func (h *ContainerHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	container, err := h.lifecycle.EnsureContainer(r.Context(), user)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, container)
}

// NewPort allocates a fresh host port on the user's container.
func (h *ContainerHandler) NewPort(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	port, err := h.lifecycle.AllocatePort(r.Context(), user)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"port": port})
}
