package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/denhq/control-plane/internal/api/middleware"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/exporter"
	"github.com/denhq/control-plane/internal/lifecycle"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/registry"
	"github.com/denhq/control-plane/internal/store"
)

// AdminHandler is the privileged control surface: node CRUD, user removal,
// forced container teardown, and filesystem exports.
type AdminHandler struct {
	store     store.Store
	registry  *registry.Service
	lifecycle *lifecycle.Service
	exporter  *exporter.Service
	logger    *slog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(st store.Store, reg *registry.Service, lc *lifecycle.Service, exp *exporter.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:     st,
		registry:  reg,
		lifecycle: lc,
		exporter:  exp,
		logger:    logger,
	}
}

// ListNodes returns all nodes with derived liveness.
func (h *AdminHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.registry.List(r.Context())
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

type registeredNodeView struct {
	*models.Node
	// Token is the one-time view of the node's bearer token.
	Token string `json:"token"`
}

// RegisterNode registers a node and returns its bearer token. The token is
// shown exactly once.
func (h *AdminHandler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var input registry.RegisterInput
	if err := ReadJSON(r, &input); err != nil {
		WriteErr(w, err)
		return
	}

	node, err := h.registry.Register(r.Context(), input)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, registeredNodeView{Node: node, Token: node.Token})
}

// DeleteNode removes a drained node.
func (h *AdminHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteErr(w, err)
		return
	}

	if err := h.registry.Delete(r.Context(), id); err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// RotateNodeToken mints a fresh token for a node, invalidating the previous
// one at commit.
func (h *AdminHandler) RotateNodeToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteErr(w, err)
		return
	}

	token, err := h.registry.RotateToken(r.Context(), id)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ListUsers returns all user accounts.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.Users().List(r.Context())
	if err != nil {
		WriteErr(w, apperrors.Internal("listing users").WithCause(err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

// DeleteUser removes an account and everything it owns. The container is
// torn down first so no capacity reservation outlives the user.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteErr(w, err)
		return
	}
	admin := middleware.UserFrom(r.Context())
	if admin.ID == id {
		WriteErr(w, apperrors.Validation("cannot delete your own account"))
		return
	}

	if err := h.lifecycle.DeleteContainer(r.Context(), id); err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
		WriteErr(w, err)
		return
	}

	err = h.store.WithTx(r.Context(), func(tx store.Store) error {
		if err := tx.Subdomains().DeleteByUser(r.Context(), id); err != nil {
			return apperrors.Internal("removing subdomains").WithCause(err)
		}
		if err := tx.Users().Delete(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.NotFound("user %d not found", id)
			}
			return apperrors.Internal("deleting user").WithCause(err)
		}
		return nil
	})
	if err != nil {
		WriteErr(w, err)
		return
	}

	h.logger.Info("user deleted", "user_id", id, "deleted_by", admin.ID)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DeleteUserContainer force-deletes a user's container.
func (h *AdminHandler) DeleteUserContainer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteErr(w, err)
		return
	}

	if err := h.lifecycle.DeleteContainer(r.Context(), id); err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type exportRequest struct {
	TTLDays int `json:"ttl_days"`
}

type exportView struct {
	ExportID    int64   `json:"export_id"`
	Status      string  `json:"status"`
	DownloadURL *string `json:"download_url,omitempty"`
}

// ExportUser starts a filesystem export of the user's container. The export
// runs in the background; the response carries the download URL only if it
// is already known.
func (h *AdminHandler) ExportUser(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		WriteErr(w, apperrors.Conflict("filesystem exports are not configured"))
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		WriteErr(w, err)
		return
	}
	admin := middleware.UserFrom(r.Context())

	var req exportRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}

	export, err := h.exporter.Start(r.Context(), id, req.TTLDays, admin.ID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, exportView{
		ExportID:    export.ID,
		Status:      export.Status,
		DownloadURL: export.DownloadURL,
	})
}

// GetExport returns the state of an export job, including the download URL
// once complete.
func (h *AdminHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		WriteErr(w, apperrors.Conflict("filesystem exports are not configured"))
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		WriteErr(w, err)
		return
	}

	export, err := h.exporter.Get(r.Context(), id)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, export)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, apperrors.Validation("invalid %s", name)
	}
	return id, nil
}
