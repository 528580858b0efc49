package handlers

import (
	"log/slog"
	"net/http"

	"github.com/denhq/control-plane/internal/api/middleware"
	"github.com/denhq/control-plane/internal/gate"
)

// AUPHandler serves the acceptable-use gate: quiz questions and acceptance.
type AUPHandler struct {
	gate   *gate.Service
	logger *slog.Logger
}

// NewAUPHandler creates a new AUP handler.
func NewAUPHandler(svc *gate.Service, logger *slog.Logger) *AUPHandler {
	return &AUPHandler{gate: svc, logger: logger}
}

type questionView struct {
	ID     int64  `json:"id"`
	Prompt string `json:"prompt"`
}

// Questions returns the user's assigned quiz questions. Answers never leave
// the server.
func (h *AUPHandler) Questions(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	questions, err := h.gate.Questions(r.Context(), user)
	if err != nil {
		WriteErr(w, err)
		return
	}

	views := make([]questionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, questionView{ID: q.ID, Prompt: q.Prompt})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"questions": views})
}

// Accept grades the user's submission and opens the gate on success.
func (h *AUPHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var input gate.AcceptInput
	if err := ReadJSON(r, &input); err != nil {
		WriteErr(w, err)
		return
	}

	if err := h.gate.Accept(r.Context(), user, input); err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":            "accepted",
		"agreed_to_tos":     user.AgreedToTOS,
		"agreed_to_privacy": user.AgreedToPrivacy,
	})
}
