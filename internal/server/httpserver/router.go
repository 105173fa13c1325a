package httpserver

import (
	"net/http"
	"strings"

	"github.com/yndnr/querydeck-go/internal/core/service"
	"github.com/yndnr/querydeck-go/internal/server/httpserver/handler"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Database    *service.DatabaseService
	Credentials *service.CredentialService
	Stream      *service.StreamHub

	Logger  logger.Logger
	Metrics *metric.Registry

	// AllowedOrigins lists browser origins accepted for CORS and /ws.
	AllowedOrigins []string

	// RateLimit is the per-IP request rate (requests/second). Zero disables it.
	RateLimit float64
	// RateBurst is the bucket size for RateLimit.
	RateBurst int
}

// publicPaths do not require a caller session.
var publicPaths = []string{"/health", "/metrics"}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.Default()
	}

	h := handler.New(handler.Config{
		Database:    cfg.Database,
		Credentials: cfg.Credentials,
		Stream:      cfg.Stream,
		Logger:      l,
		CheckOrigin: wsOriginChecker(cfg.AllowedOrigins),
	})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", cfg.Metrics.Handler())
	mux.Handle("/", h)

	// Order: RequestID -> Recover -> Audit -> CORS -> RateLimit -> SessionAuth -> Handler
	middlewares := []Middleware{
		RequestID(l),
		Recover(),
		Audit(cfg.Metrics),
		CORS(cfg.AllowedOrigins),
	}
	if cfg.RateLimit > 0 {
		middlewares = append(middlewares, RateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	middlewares = append(middlewares, SessionAuth(publicPaths...))

	return Chain(mux, middlewares...)
}

// wsOriginChecker accepts clients that send no Origin (the CLI), same-host
// browsers, and the configured origins.
func wsOriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if OriginAllowed(allowed, origin) {
			return true
		}
		host := origin
		if i := strings.Index(host, "://"); i >= 0 {
			host = host[i+3:]
		}
		return strings.EqualFold(host, r.Host)
	}
}
