package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/denhq/control-plane/internal/api/middleware"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/auth"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/registry"
	"github.com/denhq/control-plane/internal/store"
	"github.com/denhq/control-plane/internal/subdomains"
)

// AgentHandler serves the node-facing surface: heartbeats, container status
// reports, and route resolution for the reverse proxy.
type AgentHandler struct {
	store    store.Store
	registry *registry.Service
	resolver *subdomains.Resolver
	logger   *slog.Logger
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(st store.Store, reg *registry.Service, resolver *subdomains.Resolver, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{store: st, registry: reg, resolver: resolver, logger: logger}
}

// Heartbeat authenticates the node's bearer token and records the beat. A
// token valid at send-time always succeeds; one rotated away is rejected.
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractBearerToken(r.Header.Get("Authorization"))

	node, err := h.registry.Heartbeat(r.Context(), token)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"node_id": node.ID,
	})
}

type statusReport struct {
	Status string `json:"status"`
}

var reportableStatuses = map[string]bool{
	models.ContainerStatusRunning: true,
	models.ContainerStatusStopped: true,
	models.ContainerStatusError:   true,
}

// ContainerStatus records a status transition observed by the node agent.
// A node can only report on containers it hosts.
func (h *AgentHandler) ContainerStatus(w http.ResponseWriter, r *http.Request) {
	node := middleware.NodeFrom(r.Context())
	containerID := chi.URLParam(r, "id")

	var report statusReport
	if err := ReadJSON(r, &report); err != nil {
		WriteErr(w, err)
		return
	}
	if !reportableStatuses[report.Status] {
		WriteErr(w, apperrors.Validation("status %q is not reportable", report.Status))
		return
	}

	container, err := h.store.Containers().Get(r.Context(), containerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteErr(w, apperrors.NotFound("container not found"))
			return
		}
		WriteErr(w, apperrors.Internal("loading container").WithCause(err))
		return
	}
	if container.NodeID != node.ID {
		WriteErr(w, apperrors.NotFound("container not found"))
		return
	}

	if err := h.store.Containers().UpdateStatus(r.Context(), containerID, report.Status); err != nil {
		WriteErr(w, apperrors.Internal("updating status").WithCause(err))
		return
	}

	h.logger.Info("container status reported",
		"container_id", containerID,
		"node_id", node.ID,
		"status", report.Status)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Resolve maps a subdomain name to its routing target for the reverse proxy.
func (h *AgentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	route, err := h.resolver.Resolve(r.Context(), name)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, route)
}
