package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/courier-im/courier/internal/api/middleware"
	"github.com/courier-im/courier/internal/handlers"
	"github.com/courier-im/courier/internal/presence"
	"github.com/courier-im/courier/internal/relay"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(
	logger zerolog.Logger,
	dataStore store.DataStore,
	redisStore *store.RedisStore,
	r *relay.Relay,
	sessions *session.Issuer,
	table *presence.Table,
	corsOrigins []string,
) *chi.Mux {
	router := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	router.Use(middleware.Metrics)

	// Security middleware (order matters!)
	router.Use(middleware.SecurityHeaders)
	router.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	router.Use(middleware.ValidateRequest)

	// Standard middleware
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.Logger(logger))
	router.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisStore, logger)
	router.Use(limiter.Middleware)

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Create handler and auth middleware
	h := handlers.NewHandler(dataStore, redisStore, r, sessions, table)
	auth := middleware.NewAuthMiddleware(dataStore, sessions)

	// Metrics endpoint (for Prometheus scraping)
	router.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	router.Get("/health", h.Health)
	router.Post("/register", h.Register)
	router.Post("/login", h.Login)
	router.Get("/users", h.ListUsers)

	// Authenticated routes (require a session token)
	router.Group(func(router chi.Router) {
		router.Use(auth.RequireAuth)

		router.Post("/logout", h.Logout)
		router.Get("/me", h.Me)
		router.Post("/messages", h.SendMessage)
		router.Get("/messages/{id}", h.GetHistory)
		router.Delete("/messages/{id}", h.ClearHistory)
	})

	return router
}
