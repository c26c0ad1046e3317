package web

// errors.go provides unified error responses for the API.
//
// Every failure is logged with the request ID and the technical error, then
// mapped through core.MapError so clients receive a coded message with a
// suggested action instead of internal details.

import (
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/logging"
	"github.com/JonMunkholm/ledgersync/internal/source"
	"github.com/JonMunkholm/ledgersync/internal/store"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// respondError logs err and writes its user-facing form. A zero status is
// derived from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)
	requestID := chimw.GetReqID(r.Context())

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		RequestID: requestID,
	})
}

// statusFor maps engine sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrTooManyWorkflows):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrWorkflowNotFound),
		errors.Is(err, core.ErrConflictNotFound),
		errors.Is(err, core.ErrRuleNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrWorkflowDisabled),
		errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidOptions),
		errors.Is(err, source.ErrUnknownSource):
		return http.StatusBadRequest
	case core.IsCancelled(err):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
