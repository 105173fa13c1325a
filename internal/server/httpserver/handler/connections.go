package handler

import (
	"net/http"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/gateway"
)

// handleListConnections handles GET /api/connections.
func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.creds.ListProfiles(r.Context(), callerSession(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	h.writeJSON(w, r, http.StatusOK, gateway.ProfileList{Connections: profiles})
}

// handleGetConnection handles GET /api/connections/{id}.
func (h *Handler) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	p, err := h.creds.GetProfile(r.Context(), callerSession(r), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, p)
}

// handlePutConnection handles PUT /api/connections/{id}.
func (h *Handler) handlePutConnection(w http.ResponseWriter, r *http.Request) {
	var p domain.Profile
	if err := decodeBody(r, &p); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if err := h.creds.PutProfile(r.Context(), callerSession(r), r.PathValue("id"), p); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nil)
}

// handleDeleteConnection handles DELETE /api/connections/{id}.
func (h *Handler) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.DeleteProfile(r.Context(), callerSession(r), r.PathValue("id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nil)
}
