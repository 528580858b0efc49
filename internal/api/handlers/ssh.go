package handlers

import (
	"log/slog"
	"net/http"

	"github.com/denhq/control-plane/internal/api/middleware"
	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/credentials"
)

// SSHHandler applies SSH login credentials to the user's container.
type SSHHandler struct {
	credentials *credentials.Service
	logger      *slog.Logger
}

// NewSSHHandler creates a new SSH setup handler.
func NewSSHHandler(svc *credentials.Service, logger *slog.Logger) *SSHHandler {
	return &SSHHandler{credentials: svc, logger: logger}
}

type sshSetupRequest struct {
	Method    string `json:"method"`
	Password  string `json:"password,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// Setup sets the user's SSH login method.
func (h *SSHHandler) Setup(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req sshSetupRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}

	var input credentials.SetInput
	switch req.Method {
	case "password":
		input.Password = req.Password
	case "key":
		input.PublicKey = req.PublicKey
	default:
		WriteErr(w, apperrors.Validation("method must be 'password' or 'key'"))
		return
	}

	if err := h.credentials.Set(r.Context(), user, input); err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "configured", "method": req.Method})
}
