package web

// errors.go turns errors into responses. The technical error is logged with
// the request ID; the client gets the mapped user message and its code.
// API routes answer in JSON and pages in HTML.

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/fhirmap/internal/core"
	"github.com/JonMunkholm/fhirmap/internal/logging"
	"github.com/JonMunkholm/fhirmap/internal/web/templates"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var statusByCode = map[string]int{
	"REQ001":  http.StatusBadRequest,
	"ROW001":  http.StatusUnprocessableEntity,
	"DEC001":  http.StatusUnprocessableEntity,
	"PAT001":  http.StatusNotFound,
	"FILE001": http.StatusRequestEntityTooLarge,
	"FILE002": http.StatusBadRequest,
	"FILE003": http.StatusBadRequest,
	"LOAD001": http.StatusServiceUnavailable,
	"LOAD002": http.StatusServiceUnavailable,
	"LOAD003": http.StatusGatewayTimeout,
	"DB001":   http.StatusConflict,
	"DB005":   http.StatusServiceUnavailable,
	"EXP001":  http.StatusBadGateway,
	"EXP002":  http.StatusServiceUnavailable,
}

// statusFor picks the HTTP status for a mapped error, 500 by default.
func statusFor(msg core.UserMessage) int {
	if st, ok := statusByCode[msg.Code]; ok {
		return st
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusFor(msg)

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err,
	)

	if strings.HasPrefix(r.URL.Path, "/api/") || strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, status, ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		slog.Error("render error alert", "error", err)
	}
}

// badRequest wraps a client mistake that has no dedicated code.
func badRequest(err error, message, action string) error {
	return &core.UserError{
		Technical: err,
		User:      core.UserMessage{Message: message, Action: action, Code: "REQ001"},
	}
}
