package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/gateway"
)

// handlePutCredential handles PUT /api/credentials/{id}.
func (h *Handler) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	var body gateway.CredentialBody
	if err := decodeBody(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	secret := domain.Secret{Username: body.Username, Password: body.Password}
	if err := h.creds.PutSecret(auditContext(r), callerSession(r), r.PathValue("id"), secret); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, gateway.CredentialState{Stored: true})
}

// handleGetCredential handles GET /api/credentials/{id}.
func (h *Handler) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	secret, err := h.creds.GetSecret(auditContext(r), callerSession(r), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, r, http.StatusOK, gateway.CredentialBody{Username: secret.Username, Password: secret.Password})
}

// handleDeleteCredential handles DELETE /api/credentials/{id}.
func (h *Handler) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.DeleteSecret(auditContext(r), callerSession(r), r.PathValue("id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, gateway.CredentialState{Stored: false})
}

// handleCredentialState handles GET /api/credentials/{id}/state.
func (h *Handler) handleCredentialState(w http.ResponseWriter, r *http.Request) {
	has, err := h.creds.HasSecret(r.Context(), callerSession(r), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, gateway.CredentialState{Stored: has})
}

// handleResetCredentials handles POST /api/credentials/reset.
func (h *Handler) handleResetCredentials(w http.ResponseWriter, r *http.Request) {
	n, err := h.creds.Reset(auditContext(r), callerSession(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, ResetResponse{Removed: n})
}

// handleCredentialAudit handles GET /api/credentials/audit and
// GET /api/credentials/{id}/audit.
func (h *Handler) handleCredentialAudit(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{ProfileID: r.PathValue("id")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("invalid limit "+v))
			return
		}
		q.Limit = n
	}
	entries, err := h.creds.Audit(r.Context(), callerSession(r), q)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, gateway.AuditList{Entries: entries})
}

// auditContext tags the request context with the caller's address for the
// credential audit trail.
func auditContext(r *http.Request) context.Context {
	return audit.WithClient(r.Context(), audit.Client{Addr: r.RemoteAddr, UserAgent: r.UserAgent()})
}
