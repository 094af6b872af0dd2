package httpserver

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"dmcore/internal/domain"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotAParticipant):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps service errors onto status codes. Server-side failures
// are logged and reported without internal detail.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		log.Warn("storage unavailable", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		msg = "storage temporarily unavailable, retry later"
	case http.StatusInternalServerError:
		log.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
