package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/gateway"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
	"github.com/yndnr/querydeck-go/pkg/token"
)

// Context keys for request-scoped values.
type contextKey string

// ContextKeyStartTime is the context key for request start time.
const ContextKeyStartTime contextKey = "start_time"

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain chains multiple middlewares together.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID adds a unique request ID to each request and a request scoped
// logger to its context.
func RequestID(l logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(gateway.HeaderRequestID)
			if requestID == "" || len(requestID) > 128 {
				requestID = token.NewRequestID()
			}

			w.Header().Set(gateway.HeaderRequestID, requestID)

			ctx := logger.WithRequestID(r.Context(), requestID)
			ctx = logger.WithLogger(ctx, l)
			ctx = context.WithValue(ctx, ContextKeyStartTime, time.Now())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionAuth rejects requests without a well-formed caller session.
// Requests whose path starts with one of skip pass through untouched.
func SessionAuth(skip ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range skip {
				if r.URL.Path == p || strings.HasPrefix(r.URL.Path, p+"/") {
					next.ServeHTTP(w, r)
					return
				}
			}

			session := r.Header.Get(gateway.HeaderUserSession)
			if session == "" {
				writeMiddlewareError(w, r, http.StatusUnauthorized, domain.ErrUnauthorized.Code,
					"session header required", gateway.HeaderUserSession+" is missing")
				return
			}
			if !token.IsSessionToken(session) {
				writeMiddlewareError(w, r, http.StatusUnauthorized, domain.ErrUnauthorized.Code,
					"invalid session token", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ipLimiters hands out one token bucket per client IP.
type ipLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*ipLimiter
	maxIdle  time.Duration
	lastGC   time.Time
}

type ipLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func (l *ipLimiters) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > l.maxIdle {
		for k, v := range l.limiters {
			if now.Sub(v.seen) > l.maxIdle {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}

	e, ok := l.limiters[ip]
	if !ok {
		e = &ipLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = e
	}
	e.seen = now
	return e.lim
}

// RateLimit applies per-IP rate limiting.
func RateLimit(requestsPerSecond float64, burst int) Middleware {
	if burst < 1 {
		burst = 1
	}
	limiters := &ipLimiters{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*ipLimiter),
		maxIdle:  10 * time.Minute,
		lastGC:   time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.get(getClientIP(r), time.Now()).Allow() {
				w.Header().Set("Retry-After", "1")
				writeMiddlewareError(w, r, http.StatusTooManyRequests, domain.ErrRateLimited.Code,
					domain.ErrRateLimited.Message, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Audit logs each request and records it in m. Secrets and session tokens
// are never logged.
func Audit(m *metric.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			startTime, ok := r.Context().Value(ContextKeyStartTime).(time.Time)
			if !ok {
				startTime = time.Now()
			}
			duration := time.Since(startTime)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			code := wrapped.Header().Get("X-Error-Code")
			if code == "" {
				code = strconv.Itoa(wrapped.statusCode)
			}
			m.ObserveRequest(route, code, duration)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", duration.Milliseconds(),
				"client_ip", getClientIP(r),
			}
			if wrapped.hijacked {
				attrs = append(attrs, "upgraded", true)
			}

			l := logger.L(r.Context())
			switch {
			case wrapped.statusCode >= 500:
				l.Error("request completed with error", attrs...)
			case wrapped.statusCode >= 400:
				l.Warn("request completed with client error", attrs...)
			default:
				l.Info("request completed", attrs...)
			}
		})
	}
}

// Recover recovers from panics and returns 500 error.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.L(r.Context()).Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
					)
					writeMiddlewareError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code,
						domain.ErrInternal.Message, "")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// CORS adds Cross-Origin Resource Sharing headers.
func CORS(allowedOrigins []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && OriginAllowed(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+gateway.HeaderUserSession+", "+gateway.HeaderRequestID)
				w.Header().Set("Access-Control-Expose-Headers", gateway.HeaderRequestID+", X-Error-Code")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}

			// Handle preflight
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed reports whether origin is in allowed. An empty list allows
// nothing cross-origin; "*" allows everything.
func OriginAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	hijacked    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpserver: response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.hijacked = true
		w.statusCode = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Unwrap is used by http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// writeMiddlewareError writes the standard error envelope.
func writeMiddlewareError(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":       code,
		"message":    message,
		"request_id": logger.RequestIDFromContext(r.Context()),
		"timestamp":  time.Now().UnixMilli(),
		"details":    details,
	})
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// net.SplitHostPort handles IPv6 addresses like [::1]:8080
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
