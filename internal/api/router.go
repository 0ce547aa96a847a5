package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

// maxBodyBytes caps request bodies; message text itself is limited separately.
const maxBodyBytes = 8 * 1024

// Options configure the router.
type Options struct {
	RateLimit      middleware.RateLimiterConfig
	AllowedOrigins []string
	StaticDir      string
}

// NewRouter creates and configures the HTTP router. redisStore may be nil, in
// which case rate limiting is disabled.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, redisStore *store.RedisStore, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	limiter := middleware.NewRateLimiter(redisStore.Client(), logger, opts.RateLimit)
	r.Use(limiter.Middleware)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		// The widget is embedded on arbitrary customer sites.
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", h.Root)
		r.Get("/stats", h.Stats)
		r.Post("/messages", h.SubmitMessage)
		r.Get("/poll", h.Poll)
	})
	r.Get("/ws", h.Socket)

	if dir := staticDir(opts.StaticDir); dir != "" {
		logger.Info().Str("dir", dir).Msg("serving static files")
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}

	return r
}

// staticDir returns dir if it exists, or "" to skip the static mount.
func staticDir(dir string) string {
	if dir == "" {
		return ""
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ""
	}
	return dir
}
