package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/vitals/internal/session"
	"github.com/kalambet/vitals/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP API needs.
type Deps struct {
	Sessions    *session.Service
	Token       string // empty disables authentication
	DefaultUser string
}

// NewHandler returns the caller-facing session API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Use(WithUser(deps.DefaultUser))

		r.Get("/session", handleGetSession(deps))
		r.Post("/session", handleStartSession(deps))
		r.Delete("/session", handleClearSessions(deps))
		r.Post("/session/{id}/turn", handleTurn(deps))
		r.Post("/session/{id}/pause", handlePause(deps))
		r.Post("/session/{id}/actions/{actionID}/confirm", handleConfirmAction(deps))
		r.Post("/session/{id}/actions/{actionID}/reject", handleRejectAction(deps))

		r.Get("/questions", handleQuestions(deps))
		r.Get("/profile", handleGetProfile(deps))
		r.Put("/profile/sections/{sectionID}", handlePutSection(deps))
		r.Post("/profile/import", handleImport(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// serviceError maps session errors to HTTP status codes.
func serviceError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		httpError(w, http.StatusNotFound, "not_found", "no session")
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s: not found", what)
	case errors.Is(err, session.ErrSessionPaused), errors.Is(err, session.ErrActionNotPending):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrUnknownSection):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusServiceUnavailable, "timeout_error", "%s: request cancelled", what)
	default:
		slog.Error("request failed", "op", what, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to %s: %v", what, err)
	}
}
