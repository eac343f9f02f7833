package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/engramhq/engram/internal/analysis"
	"github.com/engramhq/engram/internal/capture"
	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/store"
)

// SystemHandler serves health, status, stats, summaries, entities, block
// rules, and the capture/analysis controls.
type SystemHandler struct {
	db         *store.DB
	stats      *store.StatsCollector
	summaries  *store.SummaryStore
	entities   *store.EntityStore
	blockRules *store.BlockRuleStore
	blocklist  *capture.Blocklist
	settings   *store.SettingStore
	loop       *capture.Loop
	scheduler  *analysis.Scheduler
}

func NewSystemHandler(db *store.DB, stats *store.StatsCollector,
	summaries *store.SummaryStore, entities *store.EntityStore,
	blockRules *store.BlockRuleStore, blocklist *capture.Blocklist,
	settings *store.SettingStore, loop *capture.Loop,
	scheduler *analysis.Scheduler) *SystemHandler {
	return &SystemHandler{
		db:         db,
		stats:      stats,
		summaries:  summaries,
		entities:   entities,
		blockRules: blockRules,
		blocklist:  blocklist,
		settings:   settings,
		loop:       loop,
		scheduler:  scheduler,
	}
}

// Health handles GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{Status: "ok"}

	count, err := h.db.TraceCount()
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.TraceCount = count
	}

	if h.scheduler.Status().Reachable {
		resp.Vision = models.ServiceCheck{Status: "ok"}
	} else {
		resp.Vision = models.ServiceCheck{Status: "unreachable"}
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.DB.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Status handles GET /status
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"capture":  h.loop.Status(),
		"analysis": h.scheduler.Status(),
	})
}

// Stats handles GET /stats
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Collect()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Summaries handles GET /summaries
func (h *SystemHandler) Summaries(w http.ResponseWriter, r *http.Request) {
	kind := models.SummaryKind(r.URL.Query().Get("kind"))
	var start, end int64
	if v := r.URL.Query().Get("start"); v != "" {
		start, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("end"); v != "" {
		end, _ = strconv.ParseInt(v, 10, 64)
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sums, err := h.summaries.List(kind, start, end, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summaries": sums,
		"count":     len(sums),
	})
}

// Entities handles GET /entities
func (h *SystemHandler) Entities(w http.ResponseWriter, r *http.Request) {
	typ := models.EntityType(r.URL.Query().Get("type"))
	if typ != "" && !typ.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid entity type")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entities, err := h.entities.List(typ, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// EntityTraces handles GET /entities/{id}/traces
func (h *SystemHandler) EntityTraces(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}
	ids, err := h.entities.TraceIDs(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"traceIds": ids,
		"count":    len(ids),
	})
}

// TogglePause handles POST /capture/pause
func (h *SystemHandler) TogglePause(w http.ResponseWriter, r *http.Request) {
	paused := h.loop.TogglePause()
	if err := h.settings.Set("capture_paused", strconv.FormatBool(paused)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// ListSettings handles GET /settings
func (h *SystemHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// SetSetting handles PUT /settings/{key}
func (h *SystemHandler) SetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.settings.Set(key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{key: req.Value})
}

// RunAnalysis handles POST /analysis/run, a manual drain trigger.
func (h *SystemHandler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	processed, failed := h.scheduler.RunCycle(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{
		"processed": processed,
		"failed":    failed,
	})
}

// ListBlockRules handles GET /blocklist
func (h *SystemHandler) ListBlockRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.blockRules.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// AddBlockRule handles POST /blocklist
func (h *SystemHandler) AddBlockRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    string `json:"kind"`
		Pattern string `json:"pattern"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Kind != "app" && req.Kind != "title" {
		writeError(w, http.StatusBadRequest, "kind must be app or title")
		return
	}
	if req.Pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	if err := h.blockRules.Add(req.Kind, req.Pattern); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.reloadBlocklist(w)
}

// DeleteBlockRule handles DELETE /blocklist/{id}
func (h *SystemHandler) DeleteBlockRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	if err := h.blockRules.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.reloadBlocklist(w)
}

func (h *SystemHandler) reloadBlocklist(w http.ResponseWriter) {
	rules, err := h.blockRules.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.blocklist.LoadRules(rules)
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}
