package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/corkboard-app/corkboard/internal/api/middleware"
	"github.com/corkboard-app/corkboard/internal/hub"
)

// NewRouter creates and configures the HTTP router. redisClient may be nil;
// connect rate limiting is skipped when it is.
func NewRouter(logger zerolog.Logger, h *hub.Hub, redisClient *redis.Client, whitelist []string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Connect rate limiting (only when Redis is configured)
	if redisClient != nil {
		limiter := middleware.NewConnectLimiter(redisClient, logger, whitelist)
		r.Use(limiter.Middleware)
	}

	// CORS - boards are embedded from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	hd := newHandler(h, redisClient, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", hd.Root)
	r.Get("/health", hd.Health)
	r.Get("/ws", hd.ServeWS)

	return r
}
