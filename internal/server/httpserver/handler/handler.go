package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/core/service"
	"github.com/yndnr/querydeck-go/internal/gateway"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Config wires the handler to its services.
type Config struct {
	Database    *service.DatabaseService
	Credentials *service.CredentialService
	Stream      *service.StreamHub
	Logger      logger.Logger

	// CheckOrigin decides whether a /ws upgrade is accepted. Nil keeps the
	// gorilla default (same host only).
	CheckOrigin func(r *http.Request) bool
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	db       *service.DatabaseService
	creds    *service.CredentialService
	hub      *service.StreamHub
	logger   logger.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New creates a new Handler with the given services.
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.Default()
	}
	h := &Handler{
		db:     cfg.Database,
		creds:  cfg.Credentials,
		hub:    cfg.Stream,
		logger: l,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      cfg.CheckOrigin,
		},
		mux: http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)

	// Database session
	h.mux.HandleFunc("POST /api/database/connect", h.handleConnect)
	h.mux.HandleFunc("POST /api/database/disconnect", h.handleDisconnect)
	h.mux.HandleFunc("GET /api/database/status", h.handleStatus)
	h.mux.HandleFunc("GET /api/database/schema", h.handleSchema)

	// Profiles
	h.mux.HandleFunc("GET /api/connections", h.handleListConnections)
	h.mux.HandleFunc("GET /api/connections/{id}", h.handleGetConnection)
	h.mux.HandleFunc("PUT /api/connections/{id}", h.handlePutConnection)
	h.mux.HandleFunc("DELETE /api/connections/{id}", h.handleDeleteConnection)

	// Credentials
	h.mux.HandleFunc("GET /api/credentials/{id}", h.handleGetCredential)
	h.mux.HandleFunc("PUT /api/credentials/{id}", h.handlePutCredential)
	h.mux.HandleFunc("DELETE /api/credentials/{id}", h.handleDeleteCredential)
	h.mux.HandleFunc("GET /api/credentials/{id}/state", h.handleCredentialState)
	h.mux.HandleFunc("POST /api/credentials/reset", h.handleResetCredentials)
	h.mux.HandleFunc("GET /api/credentials/audit", h.handleCredentialAudit)
	h.mux.HandleFunc("GET /api/credentials/{id}/audit", h.handleCredentialAudit)

	// Live channel
	h.mux.HandleFunc("GET /ws", h.handleWebSocket)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	requestID := logger.RequestIDFromContext(r.Context())
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		status := ErrorCodeToHTTPStatus(de.Code)
		if status >= 500 {
			logger.L(r.Context()).Error("request failed", "code", de.Code, "error", err)
		}
		h.writeError(w, r, status, de.Code, de.Message, de.Details)
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, domain.ErrInternal.Message, "")
}

// ErrorCodeToHTTPStatus maps an error code to its HTTP status. The last
// four digits of a code are the status followed by a variant digit.
func ErrorCodeToHTTPStatus(code string) int {
	i := strings.LastIndexByte(code, '-')
	if i < 0 || len(code)-i-1 != 4 {
		return http.StatusInternalServerError
	}
	n, err := strconv.Atoi(code[i+1:])
	if err != nil {
		return http.StatusInternalServerError
	}
	status := n / 10
	if status < 400 || status > 599 || http.StatusText(status) == "" {
		return http.StatusInternalServerError
	}
	return status
}

// decodeBody reads a JSON body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrBadRequest.WithDetails("invalid JSON body: " + err.Error())
	}
	return nil
}

// callerSession returns the caller session established by the SessionAuth
// middleware.
func callerSession(r *http.Request) string {
	return r.Header.Get(gateway.HeaderUserSession)
}
