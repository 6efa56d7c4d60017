package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"sessiond/internal/api"
	"sessiond/internal/engine"
	"sessiond/internal/manager"
	"sessiond/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case api.IsAborted(err):
		return http.StatusRequestTimeout
	case manager.IsPrecondition(err), api.IsInvalid(err), errors.Is(err, api.ErrToolsWithGrammar):
		return http.StatusBadRequest
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, api.ErrInputTooLong):
		return http.StatusRequestEntityTooLarge
	case manager.IsUnsupported(err), errors.Is(err, engine.ErrGrammarUnsupported):
		return http.StatusUnprocessableEntity
	case manager.IsTooBusy(err):
		IncrementBackpressure("queue")
		return http.StatusTooManyRequests
	case manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &he):
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}
