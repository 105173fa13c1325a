package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/gateway"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
	"github.com/yndnr/querydeck-go/pkg/token"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) gateway.Envelope {
	t.Helper()
	var env gateway.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestRequestID(t *testing.T) {
	middleware := RequestID(logger.Discard())
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logger.RequestIDFromContext(r.Context()) == "" {
			t.Error("expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates request ID when not provided", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		requestID := rec.Header().Get("X-Request-ID")
		if !strings.HasPrefix(requestID, "req-") {
			t.Errorf("expected request ID to start with 'req-', got %s", requestID)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", "existing-id-123")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); got != "existing-id-123" {
			t.Errorf("expected 'existing-id-123', got %s", got)
		}
	})

	t.Run("replaces oversized request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req-") {
			t.Errorf("expected generated id, got %s", got)
		}
	})
}

// TestChain tests middleware chaining.
func TestChain(t *testing.T) {
	var order []int
	mark := func(n int) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, n)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, 4)
			w.WriteHeader(http.StatusOK)
		}),
		mark(1), mark(2), mark(3),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

	expected := []int{1, 2, 3, 4}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("expected order[%d] = %d, got %d", i, v, order[i])
		}
	}
}

func TestSessionAuth(t *testing.T) {
	handler := SessionAuth("/health")(okHandler())
	valid, err := token.NewSession()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		session string
		want    int
	}{
		{"valid session", "/api/connections", valid, http.StatusOK},
		{"missing session", "/api/connections", "", http.StatusUnauthorized},
		{"malformed session", "/api/connections", "qdst_short", http.StatusUnauthorized},
		{"wrong prefix", "/api/connections", "tmak_" + strings.Repeat("a", 43), http.StatusUnauthorized},
		{"skipped path", "/health", "", http.StatusOK},
		{"skip is not a prefix match", "/healthz", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.session != "" {
				req.Header.Set(gateway.HeaderUserSession, tt.session)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				env := decodeEnvelope(t, rec)
				if env.Code != domain.ErrUnauthorized.Code {
					t.Errorf("code = %s, want %s", env.Code, domain.ErrUnauthorized.Code)
				}
			}
		})
	}
}

func TestRateLimitConcurrency(t *testing.T) {
	handler := RateLimit(50, 50)(okHandler())

	var wg sync.WaitGroup
	var mu sync.Mutex
	success, limited := 0, 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			mu.Lock()
			if rec.Code == http.StatusOK {
				success++
			} else {
				limited++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if success == 0 {
		t.Error("expected some successful requests")
	}
	if limited == 0 {
		t.Error("expected some rate-limited requests")
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(0.001, 2)(okHandler())

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("10.0.0.99:12345"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := send("10.0.0.99:12345")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if env := decodeEnvelope(t, rec); env.Code != domain.ErrRateLimited.Code {
		t.Errorf("code = %s", env.Code)
	}

	if rec := send("10.0.0.100:12345"); rec.Code != http.StatusOK {
		t.Errorf("other IP should have its own bucket, got %d", rec.Code)
	}
}

func TestRecover(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		handler := Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("test panic")
		}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
		if env := decodeEnvelope(t, rec); env.Code != domain.ErrInternal.Code {
			t.Errorf("code = %s", env.Code)
		}
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Recover()(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})
}

// TestCORS tests the CORS middleware.
func TestCORS(t *testing.T) {
	t.Run("adds CORS headers for allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()

		CORS([]string{"http://example.com"})(okHandler()).ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
			t.Error("expected Access-Control-Allow-Origin header")
		}
		if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), gateway.HeaderUserSession) {
			t.Error("expected session header to be allowed")
		}
	})

	t.Run("handles preflight OPTIONS request", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/test", nil)
		req.Header.Set("Origin", "http://example.com")
		req.Header.Set("Access-Control-Request-Method", "PUT")
		rec := httptest.NewRecorder()

		CORS([]string{"*"})(okHandler()).ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rec.Code)
		}
	})

	t.Run("does not add headers for non-allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://notallowed.com")
		rec := httptest.NewRecorder()

		CORS([]string{"http://allowed.com"})(okHandler()).ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("should not add CORS header for non-allowed origin")
		}
	})

	t.Run("empty list allows nothing", func(t *testing.T) {
		if OriginAllowed(nil, "http://example.com") {
			t.Error("expected empty list to reject")
		}
	})
}

// TestGetClientIP tests the getClientIP function.
func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		realIP string
		remote string
		want   string
	}{
		{"X-Forwarded-For", "10.0.0.1, 10.0.0.2", "", "192.168.1.1:12345", "10.0.0.1"},
		{"X-Real-IP", "", "10.0.0.1", "192.168.1.1:12345", "10.0.0.1"},
		{"RemoteAddr", "", "", "192.168.1.1:12345", "192.168.1.1"},
		{"IPv6 RemoteAddr", "", "", "[::1]:8080", "::1"},
		{"bare RemoteAddr", "", "", "192.168.1.1", "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remote

			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAudit(t *testing.T) {
	m := metric.NewRegistry()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/things/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Error-Code", "SYS-4040")
		w.WriteHeader(http.StatusNotFound)
	})
	handler := Chain(mux, RequestID(logger.Discard()), Audit(m))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/things/x", nil))
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `route="GET /api/things/{id}"`) {
		t.Errorf("expected route pattern label in metrics:\n%s", body)
	}
	if !strings.Contains(body, `code="SYS-4040"`) {
		t.Errorf("expected error code label in metrics")
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	w.WriteHeader(http.StatusCreated)
	w.WriteHeader(http.StatusTeapot)

	if w.statusCode != http.StatusCreated {
		t.Errorf("expected first status to stick, got %d", w.statusCode)
	}
	if w.Unwrap() != rec {
		t.Error("Unwrap should return the wrapped writer")
	}
	if _, _, err := w.Hijack(); err == nil {
		t.Error("expected Hijack to fail on a recorder")
	}
}
