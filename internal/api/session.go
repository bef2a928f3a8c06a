package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/vitals/internal/profile"
)

const maxImportBodySize = 10 << 20 // 10MB

type turnRequest struct {
	Message string `json:"message"`
}

type sectionRequest struct {
	Content string `json:"content"`
}

// ImportRequest is a profile document. Type "pdf" carries base64 content.
type ImportRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := deps.Sessions.Get(userID(r))
		if err != nil {
			serviceError(w, err, "get session")
			return
		}
		writeJSON(w, sum)
	}
}

func handleStartSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Sessions.Start(r.Context(), userID(r))
		if err != nil {
			serviceError(w, err, "start session")
			return
		}
		writeJSON(w, res)
	}
}

func handleClearSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Sessions.Clear(r.Context(), userID(r))
		if err != nil {
			serviceError(w, err, "delete sessions")
			return
		}
		writeJSON(w, map[string]any{"status": "deleted", "sessions": n})
	}
}

func handleTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		res, err := deps.Sessions.Turn(r.Context(), userID(r), chi.URLParam(r, "id"), req.Message)
		if err != nil {
			serviceError(w, err, "process turn")
			return
		}
		writeJSON(w, res)
	}
}

func handlePause(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := deps.Sessions.Pause(r.Context(), userID(r), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, err, "pause session")
			return
		}
		writeJSON(w, view)
	}
}

func handleConfirmAction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Sessions.ConfirmAction(r.Context(), userID(r), chi.URLParam(r, "id"), chi.URLParam(r, "actionID"))
		if err != nil {
			serviceError(w, err, "confirm action")
			return
		}
		writeJSON(w, out)
	}
}

func handleRejectAction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Sessions.RejectAction(r.Context(), userID(r), chi.URLParam(r, "id"), chi.URLParam(r, "actionID"))
		if err != nil {
			serviceError(w, err, "reject action")
			return
		}
		writeJSON(w, map[string]string{"status": "rejected"})
	}
}

func handleQuestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs, prog, err := deps.Sessions.Questions(userID(r))
		if err != nil {
			serviceError(w, err, "list questions")
			return
		}
		writeJSON(w, map[string]any{"questions": qs, "progress": prog})
	}
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sections, err := deps.Sessions.Sections(userID(r))
		if err != nil {
			serviceError(w, err, "get profile")
			return
		}
		writeJSON(w, map[string]any{
			"sections": sections,
			"document": profile.Compose(sections),
		})
	}
}

func handlePutSection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req sectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sec, err := deps.Sessions.SetSection(r.Context(), userID(r), chi.URLParam(r, "sectionID"), req.Content)
		if err != nil {
			serviceError(w, err, "update section")
			return
		}
		writeJSON(w, sec)
	}
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		text := req.Content
		switch req.Type {
		case "", "text":
		case "pdf":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			text, err = profile.ExtractPDFText(decoded)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown type %q", req.Type)
			return
		}

		res, err := deps.Sessions.ImportDocument(r.Context(), userID(r), text)
		if err != nil {
			serviceError(w, err, "import profile")
			return
		}
		writeJSON(w, res)
	}
}
