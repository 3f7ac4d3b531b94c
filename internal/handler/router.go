package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/localchat/internal/middleware"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

// RouterConfig configures the API router.
type RouterConfig struct {
	AuthSecret        string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Stream        *StreamHandler
	Models        *ModelHandler
}

// NewRouter builds the local API.
func NewRouter(h Handlers, cfg RouterConfig, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.AuthSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/events", h.Stream.Events)
		r.Get("/models", h.Models.List)

		r.With(middleware.RequireScope(middleware.ScopeWrite)).Post("/messages", h.Messages.Start)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.Conversations.List)
			r.With(middleware.RequireScope(middleware.ScopeWrite)).Post("/", h.Conversations.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Conversations.Get)
				r.Get("/messages", h.Messages.List)
				r.Get("/messages/{messageID}/siblings", h.Messages.Siblings)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireScope(middleware.ScopeWrite))

					r.Put("/", h.Conversations.Update)
					r.Delete("/", h.Conversations.Delete)
					r.Post("/abort", h.Conversations.Abort)
					r.Post("/view", h.Conversations.View)

					r.Post("/messages", h.Messages.Send)
					r.Put("/messages/{messageID}", h.Messages.Edit)
					r.Post("/messages/{messageID}/answer", h.Messages.Answer)
					r.Post("/messages/{messageID}/navigate", h.Messages.Navigate)
				})
			})
		})
	})

	return r
}
