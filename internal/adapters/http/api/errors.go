package api

import (
	"errors"
	"net/http"

	service "github.com/okian/birdscore/internal/app"
	"github.com/okian/birdscore/internal/auth"
	"github.com/okian/birdscore/internal/domain/model"
	"github.com/okian/birdscore/internal/domain/scoring"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

// retryAfterSeconds is advertised on failures the client may simply repeat.
const retryAfterSeconds = "1"

// writeDomainError maps a domain error onto a status code. Auth failures
// carry the login entry point in Location.
func writeDomainError(w http.ResponseWriter, err error) {
	if model.IsRetryable(err) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "validation_failed", Message: ve.Error(), Field: ve.Field})
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, model.ErrAuth):
		w.Header().Set("Location", auth.LoginPath)
		writeError(w, http.StatusUnauthorized, "unauthenticated", err)
	case errors.Is(err, model.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, model.ErrSequence):
		writeError(w, http.StatusConflict, "out_of_sequence", err)
	case errors.Is(err, model.ErrBusy):
		writeError(w, http.StatusConflict, "busy", err)
	case errors.Is(err, model.ErrStale):
		writeError(w, http.StatusConflict, "stale", err)
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, scoring.ErrIncomplete), errors.Is(err, scoring.ErrGap), errors.Is(err, scoring.ErrBadScore):
		writeError(w, http.StatusUnprocessableEntity, "not_aggregatable", err)
	case errors.Is(err, model.ErrTransport):
		writeError(w, http.StatusBadGateway, "backend_unavailable", err)
	case errors.Is(err, model.ErrNotReady), errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "not_ready", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
