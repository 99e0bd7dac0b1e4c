package api

import (
	"encoding/json"
	"net/http"

	"github.com/tableup/scheduler/internal/apperr"
)

// errorResponse renders the §7 error envelope: {"error":{"kind","message","details?"}}.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    apperr.Kind    `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// statusFor maps an apperr.Kind to the HTTP status the Command API
// surfaces for it.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	case apperr.KindPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	kind := apperr.Classify(err)
	message := err.Error()
	var details map[string]any
	if as, ok := err.(*apperr.Error); ok {
		ae = as
		details = ae.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errorBody{
		Kind: kind, Message: message, Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
