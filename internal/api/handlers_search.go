package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engramhq/engram/internal/chat"
	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/store"
)

type SearchHandler struct {
	engine *search.Engine
}

func NewSearchHandler(engine *search.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// Search handles POST /search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Mode != "" && !req.Mode.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid mode")
		return
	}

	resp, err := h.engine.Search(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type ChatHandler struct {
	engine    *chat.Engine
	chatStore *store.ChatStore
}

func NewChatHandler(engine *chat.Engine, chatStore *store.ChatStore) *ChatHandler {
	return &ChatHandler{engine: engine, chatStore: chatStore}
}

// Chat handles POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := h.engine.Chat(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Threads handles GET /chat/threads
func (h *ChatHandler) Threads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.chatStore.ListThreads(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threads": threads,
		"count":   len(threads),
	})
}

// Messages handles GET /chat/threads/{id}/messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	thread, err := h.chatStore.GetThread(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	msgs, err := h.chatStore.Messages(id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread":   thread,
		"messages": msgs,
		"count":    len(msgs),
	})
}
