package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// Deps carries everything the routes need.
type Deps struct {
	Traces   *TraceHandler
	Sessions *SessionHandler
	Search   *SearchHandler
	Chat     *ChatHandler
	System   *SystemHandler
	Frames   *FrameHandler
}

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(deps Deps, apiKey string, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	// Unauthenticated routes
	r.Get("/health", deps.System.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/traces", func(r chi.Router) {
			r.Get("/", deps.Traces.List)
			r.Get("/{id}", deps.Traces.Get)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", deps.Sessions.List)
			r.Get("/{id}", deps.Sessions.Get)
			r.Get("/{id}/traces", deps.Sessions.Traces)
		})

		r.Post("/frames", deps.Frames.Ingest)
		r.Post("/search", deps.Search.Search)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", deps.Chat.Chat)
			r.Get("/threads", deps.Chat.Threads)
			r.Get("/threads/{id}/messages", deps.Chat.Messages)
		})

		r.Get("/summaries", deps.System.Summaries)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", deps.System.Entities)
			r.Get("/{id}/traces", deps.System.EntityTraces)
		})

		r.Get("/stats", deps.System.Stats)
		r.Get("/status", deps.System.Status)
		r.Post("/capture/pause", deps.System.TogglePause)
		r.Post("/analysis/run", deps.System.RunAnalysis)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", deps.System.ListSettings)
			r.Put("/{key}", deps.System.SetSetting)
		})

		r.Route("/blocklist", func(r chi.Router) {
			r.Get("/", deps.System.ListBlockRules)
			r.Post("/", deps.System.AddBlockRule)
			r.Delete("/{id}", deps.System.DeleteBlockRule)
		})
	})

	return r
}
