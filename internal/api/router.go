package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/matheuslanduci/vrdeploy/internal/api/middleware"
	"github.com/matheuslanduci/vrdeploy/internal/handlers"
	"github.com/matheuslanduci/vrdeploy/internal/objstore"
	"github.com/matheuslanduci/vrdeploy/internal/pubsub"
	"github.com/matheuslanduci/vrdeploy/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, db store.DataStore, redisStore *store.RedisStore, bus pubsub.Broker, signer objstore.Signer) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024))
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisStore.Client(), logger)
	r.Use(limiter.Middleware)

	// CORS - dashboard calls from the browser, agents from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.AgentTokenHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(db, redisStore, bus, signer, logger)
	auth := middleware.NewAuthMiddleware(db, redisStore)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/health", h.Health)
	r.Post("/agente", h.RegisterAgent)

	// Agent-facing routes (require agent token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAgent)

		r.Get("/pubsub/agente", h.AgentPubSub)
	})

	// Dashboard routes (require user session)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)

		r.Get("/agente", h.ListAgents)
		r.Get("/agente/{id}", h.GetAgent)
		r.Patch("/agente/{id}", h.EvaluateAgent)
		r.Delete("/agente/{id}", h.DeleteAgent)

		r.Get("/versao", h.ListVersions)

		r.Post("/implantacao", h.CreateDeployment)
		r.Get("/implantacao", h.ListDeployments)

		r.Post("/sessao-terminal/{idAgente}", h.StartTerminalSession)

		r.Get("/pubsub/user", h.UserPubSub)
	})

	return r
}
