package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/querydeck-go/internal/infra/buildinfo"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Time:     time.Now().UTC().Format(time.RFC3339),
		Version:  buildinfo.Get().Version,
		Database: h.db.Status().Status,
	}
	if h.hub != nil {
		resp.StreamersConnected = h.hub.Clients()
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}
