package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/quantpulse/identity-api/internal/services/auth"
	"go.uber.org/zap"
)

// AdminHandler handles administrative endpoints, gated by a static API key
type AdminHandler struct {
	sessions *auth.SessionLifecycleManager
	apiKey   string
	log      *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(sessions *auth.SessionLifecycleManager, apiKey string, log *zap.Logger) *AdminHandler {
	return &AdminHandler{sessions: sessions, apiKey: apiKey, log: log}
}

// RegisterRoutes registers admin routes on the given router.
// The router should already have the /admin prefix.
func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sessions/revoke", h.BulkRevokeSessions).Methods("POST")
}

// authorize checks the admin API key header with a constant-time compare
func (h *AdminHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("X-Admin-API-Key")
	if key == "" {
		respondJSONError(w, r, http.StatusUnauthorized, "unauthorized", "Missing admin API key")
		return false
	}
	if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
		respondJSONError(w, r, http.StatusForbidden, "forbidden", "Invalid admin API key")
		return false
	}
	return true
}

// BulkRevokeSessions handles POST /admin/sessions/revoke
func (h *AdminHandler) BulkRevokeSessions(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	var req struct {
		UserIDs []uuid.UUID `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, r, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	revoked, err := h.sessions.BulkRevoke(r.Context(), req.UserIDs)
	if err != nil {
		kind := auth.KindOf(err)
		respondJSONError(w, r, statusForKind(kind), string(kind), auth.MessageOf(err))
		return
	}

	h.log.Info("admin_bulk_revoke",
		zap.Int("user_count", len(req.UserIDs)),
		zap.Int("revoked_sessions", revoked),
	)
	respondJSON(w, http.StatusOK, map[string]any{
		"revoked_sessions": revoked,
	})
}
