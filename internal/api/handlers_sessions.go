package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/engramhq/engram/internal/store"
)

type SessionHandler struct {
	sessions *store.SessionStore
	traces   *store.TraceStore
}

func NewSessionHandler(sessions *store.SessionStore, traces *store.TraceStore) *SessionHandler {
	return &SessionHandler{sessions: sessions, traces: traces}
}

// List handles GET /sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	var start, end int64
	if v := r.URL.Query().Get("start"); v != "" {
		start, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("end"); v != "" {
		end, _ = strconv.ParseInt(v, 10, 64)
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	app := r.URL.Query().Get("app")

	sessions, err := h.sessions.List(start, end, app, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := h.sessions.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Traces handles GET /sessions/{id}/traces
func (h *SessionHandler) Traces(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := h.sessions.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	traces, err := h.traces.BySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"traces":  traces,
		"count":   len(traces),
	})
}
