package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"orbguard-appscan/internal/api/handlers"
	apimiddleware "orbguard-appscan/internal/api/middleware"
	"orbguard-appscan/internal/config"
	"orbguard-appscan/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	limiter  apimiddleware.RateLimitStore
	logger   *logger.Logger
}

// NewRouter creates a new Router instance. limiter may be nil, which
// disables rate limiting.
func NewRouter(cfg config.Config, h *handlers.Handlers, limiter apimiddleware.RateLimitStore, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		limiter:  limiter,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.RequestLogger(r.logger))
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	if r.config.RateLimit.Enabled && r.limiter != nil {
		router.Use(apimiddleware.RateLimiter(r.limiter, r.config.RateLimit, r.logger))
	}

	// Public routes
	router.Get("/health", r.handlers.Health.Check)
	router.Get("/ready", r.handlers.Health.Ready)

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(apimiddleware.APIKeyAuth(r.config.Auth.APIKeys))

		// The stream is long-lived; everything else gets a request timeout
		api.Get("/scans/stream", r.handlers.Streaming.HandleWebSocket)

		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(timeoutOrDefault(r.config.Server.WriteTimeout)))

			api.Route("/apps", func(apps chi.Router) {
				apps.Get("/", r.handlers.Apps.List)
				apps.Post("/analyze", r.handlers.Apps.Analyze)
				apps.Get("/{package}", r.handlers.Apps.Get)
				apps.Delete("/{package}", r.handlers.Apps.Exclude)
				apps.Post("/{package}/trust", r.handlers.Apps.Trust)
				apps.Post("/{package}/flag", r.handlers.Apps.Flag)
			})

			api.Post("/feedback/import", r.handlers.Apps.ImportFeedback)

			api.Route("/exclusions", func(ex chi.Router) {
				ex.Get("/", r.handlers.Exclusions.List)
				ex.Delete("/{package}", r.handlers.Exclusions.Include)
			})

			api.Route("/scans", func(scans chi.Router) {
				scans.Post("/", r.handlers.Scans.Trigger)
				scans.Get("/latest", r.handlers.Scans.Latest)
				scans.Get("/status", r.handlers.Scans.Status)
				scans.Get("/stream/stats", r.handlers.Streaming.GetStats)
			})
		})
	})

	return router
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}
