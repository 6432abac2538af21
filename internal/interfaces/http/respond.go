package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"accountlink/internal/domain/monitor"
	"accountlink/internal/domain/verification"
	"accountlink/internal/domain/wizard"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wizard.ErrSessionNotFound),
		errors.Is(err, monitor.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, wizard.ErrUnknownMethod):
		return http.StatusBadRequest
	case errors.Is(err, wizard.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, wizard.ErrStepIncomplete),
		errors.Is(err, wizard.ErrStaleResult),
		errors.Is(err, wizard.ErrBusy),
		errors.Is(err, verification.ErrAlreadyRunning),
		errors.Is(err, monitor.ErrPaused),
		errors.Is(err, monitor.ErrAlreadySyncing):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client. Unexpected errors are logged and
// their text is withheld.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}
