package web

// errors.go provides unified error response handling for the API.
//
// Every error is logged with its technical detail and request ID, then
// returned to the client as a core.UserMessage with a stable code. Column
// errors additionally carry the file's headers so the caller can retry
// with a valid column name.

import (
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/countrybatch/internal/core"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5/middleware"
)

var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error            string   `json:"error"`
	Message          string   `json:"message"`
	Action           string   `json:"action,omitempty"`
	Code             string   `json:"code"`
	Hints            []string `json:"hints,omitempty"`
	AvailableHeaders []string `json:"available_headers,omitempty"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	var cancelled *core.CancelledError
	if _, ok := core.AsColumnNotFound(err); ok {
		return http.StatusBadRequest
	}
	// A run that ended early has no export.
	if errors.As(err, &cancelled) {
		return http.StatusConflict
	}

	switch {
	case errors.Is(err, core.ErrEmptyInput), errors.Is(err, core.ErrNoFile):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrRunNotFound),
		errors.Is(err, core.ErrArtifactStoreDisabled),
		errors.Is(err, core.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes it as a JSON ErrorResponse.
// A statusCode of 0 derives the status from err.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = statusFor(err)
	}
	userMsg := core.MapError(err)

	level := slog.LevelWarn
	if statusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
		Hints:   core.UserHints(err),
	}
	if cnf, ok := core.AsColumnNotFound(err); ok {
		resp.AvailableHeaders = cnf.Available
	}

	writeJSON(w, statusCode, resp)
}
