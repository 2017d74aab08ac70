// Package httpapi exposes the REST control plane for creating, joining,
// and managing live workout sessions; the WebSocket gateway handles the
// high-frequency state traffic once a participant is inside one.
package httpapi

import (
	"encoding/json"
	"net/http"

	"livesession/src/apperr"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// writeError maps an apperr.Kind (or a plain error) to the matching
// HTTP status and a stable error code the client can branch on.
func writeError(w http.ResponseWriter, err error) {
	var kind apperr.Kind = apperr.Transient
	if ae, ok := err.(*apperr.Error); ok {
		kind = ae.Kind
	}

	status := http.StatusInternalServerError
	switch kind {
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Forbidden:
		status = http.StatusForbidden
	case apperr.NotMember:
		status = http.StatusForbidden
	case apperr.Full:
		status = http.StatusConflict
	case apperr.Terminal:
		status = http.StatusConflict
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.Timeout:
		status = http.StatusGatewayTimeout
	case apperr.Exhausted:
		status = http.StatusServiceUnavailable
	case apperr.Transient:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, errorResponse{Error: errorBody{Code: string(kind), Message: err.Error()}})
}
