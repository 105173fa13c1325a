package handler

import (
	"net/http"

	"github.com/yndnr/querydeck-go/internal/gateway"
)

// handleConnect handles POST /api/database/connect.
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req gateway.ConnectRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	res, err := h.db.Connect(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, res)
}

// handleDisconnect handles POST /api/database/disconnect.
func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Disconnect(r.Context()); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Successfully disconnected from database",
	})
}

// handleStatus handles GET /api/database/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.db.Status())
}

// handleSchema handles GET /api/database/schema.
func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	tables, err := h.db.Schema(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, gateway.SchemaResult{Tables: tables})
}
