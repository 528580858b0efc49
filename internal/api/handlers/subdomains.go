package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/denhq/control-plane/internal/api/middleware"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/subdomains"
)

// SubdomainHandler serves subdomain CRUD for the current user.
type SubdomainHandler struct {
	subdomains *subdomains.Service
	logger     *slog.Logger
}

// NewSubdomainHandler creates a new subdomain handler.
func NewSubdomainHandler(svc *subdomains.Service, logger *slog.Logger) *SubdomainHandler {
	return &SubdomainHandler{subdomains: svc, logger: logger}
}

type subdomainView struct {
	*models.Subdomain
	FullName string `json:"full_name"`
}

// List returns the user's subdomains.
func (h *SubdomainHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	subs, err := h.subdomains.List(r.Context(), user.ID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"subdomains": subs})
}

// Create claims a subdomain for the user.
func (h *SubdomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var input subdomains.CreateInput
	if err := ReadJSON(r, &input); err != nil {
		WriteErr(w, err)
		return
	}

	res, err := h.subdomains.Create(r.Context(), user, input)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, subdomainView{Subdomain: res.Subdomain, FullName: res.FullName})
}

// Delete removes one of the user's subdomains.
func (h *SubdomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteErr(w, apperrors.Validation("invalid subdomain id"))
		return
	}

	if err := h.subdomains.Delete(r.Context(), user, id); err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
