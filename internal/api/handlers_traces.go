package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/store"
)

type TraceHandler struct {
	traces *store.TraceStore
}

func NewTraceHandler(traces *store.TraceStore) *TraceHandler {
	return &TraceHandler{traces: traces}
}

// List handles GET /traces
func (h *TraceHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := traceFilterFromQuery(r)
	traces, err := h.traces.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"traces": traces,
		"count":  len(traces),
	})
}

// Get handles GET /traces/{id}
func (h *TraceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trace id")
		return
	}
	trace, err := h.traces.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trace == nil {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// traceFilterFromQuery reads the shared start/end/app/limit/offset params.
func traceFilterFromQuery(r *http.Request) *models.TraceFilter {
	f := &models.TraceFilter{
		AppName: r.URL.Query().Get("app"),
	}
	if v := r.URL.Query().Get("start"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.StartTime = &ts
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.EndTime = &ts
		}
	}
	f.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	f.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return f
}
