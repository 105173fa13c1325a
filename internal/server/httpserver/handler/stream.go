package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

const handshakeTimeout = 10 * time.Second

// handleWebSocket handles GET /ws.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		logger.L(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	if err := h.hub.Serve(r.Context(), conn); err != nil {
		logger.L(r.Context()).Debug("websocket client ended", "error", err)
	}
}
