// Package handlers implements the HTTP handlers for the control plane API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/denhq/control-plane/internal/apperrors"
)

// errorResponse is the wire shape every failed request returns. Clients key
// off the presence of "error" rather than the HTTP status.
type errorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteErr maps an error to its HTTP status and writes the error envelope.
// Internal errors are masked; everything else surfaces its message verbatim.
func WriteErr(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	msg := err.Error()
	if kind == apperrors.KindInternal {
		msg = "internal server error"
	}
	WriteJSON(w, apperrors.HTTPStatus(kind), errorResponse{Error: msg})
}

// ReadJSON decodes the request body into dst. Unknown fields are tolerated;
// malformed JSON is a validation error.
func ReadJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Validation("invalid request body")
	}
	return nil
}
