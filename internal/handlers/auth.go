package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/quantpulse/identity-api/internal/middleware"
	"github.com/quantpulse/identity-api/internal/services/auth"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

// AuthHandler handles the identity endpoints
type AuthHandler struct {
	anonymous    *auth.AnonymousIssuer
	magicLinks   *auth.MagicLinkService
	oauth        *auth.OAuthCallbackService
	oauthURLs    AuthorizeURLSource
	merger       *auth.MergeCoordinator
	sessions     *auth.SessionLifecycleManager
	emailLimiter *limiter.Limiter
	log          *zap.Logger
}

// AuthorizeURLSource provides per-provider authorization URLs
type AuthorizeURLSource interface {
	AuthorizeURLs(ctx context.Context) (map[string]string, error)
}

// NewAuthHandler creates a new auth handler. emailLimiter throttles
// magic-link requests per target email and may be nil.
func NewAuthHandler(
	anonymous *auth.AnonymousIssuer,
	magicLinks *auth.MagicLinkService,
	oauthSvc *auth.OAuthCallbackService,
	oauthURLs AuthorizeURLSource,
	merger *auth.MergeCoordinator,
	sessions *auth.SessionLifecycleManager,
	emailLimiter *limiter.Limiter,
	log *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		anonymous:    anonymous,
		magicLinks:   magicLinks,
		oauth:        oauthSvc,
		oauthURLs:    oauthURLs,
		merger:       merger,
		sessions:     sessions,
		emailLimiter: emailLimiter,
		log:          log,
	}
}

// RegisterPublicRoutes registers the unauthenticated auth routes.
// The router should already have the /auth prefix.
func (h *AuthHandler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/anonymous", h.CreateAnonymous).Methods("POST")
	r.HandleFunc("/magic-link", h.RequestMagicLink).Methods("POST")
	r.HandleFunc("/magic-link/verify", h.VerifyMagicLink).Methods("GET")
	r.HandleFunc("/oauth/urls", h.GetOAuthURLs).Methods("GET")
	r.HandleFunc("/check-email", h.CheckEmail).Methods("POST")
	r.HandleFunc("/link-accounts", h.LinkAccounts).Methods("POST")
	r.HandleFunc("/refresh", h.Refresh).Methods("POST")
}

// RegisterCallbackRoute registers the OAuth callback on its own router so
// it can carry a stricter per-IP rate limit.
// The router should already have the /auth/oauth/callback prefix.
func (h *AuthHandler) RegisterCallbackRoute(r *mux.Router) {
	r.HandleFunc("", h.OAuthCallback).Methods("POST")
}

// RegisterProtectedRoutes registers routes that require a bearer token.
// The router should already have the /auth prefix and auth middleware.
func (h *AuthHandler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/signout", h.SignOut).Methods("POST")
	r.HandleFunc("/session", h.GetSession).Methods("GET")
	r.HandleFunc("/session/extend", h.ExtendSession).Methods("POST")
	r.HandleFunc("/merge-status", h.GetMergeStatus).Methods("GET")
}

// CreateAnonymous handles POST /auth/anonymous
func (h *AuthHandler) CreateAnonymous(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceFingerprint *string `json:"device_fingerprint,omitempty"`
	}
	// Body is optional for this endpoint
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.anonymous.Create(r.Context(), req.DeviceFingerprint)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id":            result.User.ID,
		"session_id":         result.Session.ID,
		"access_token":       result.Tokens.AccessToken,
		"id_token":           result.Tokens.IDToken,
		"refresh_token":      result.Tokens.RefreshToken,
		"expires_in":         result.Tokens.ExpiresIn,
		"session_expires_at": result.Session.ExpiresAt.Format(time.RFC3339),
	})
}

// RequestMagicLink handles POST /auth/magic-link
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email           string     `json:"email"`
		AnonymousUserID *uuid.UUID `json:"anonymous_user_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondKindError(w, r, auth.KindValidation, "Invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if h.emailLimiter != nil && email != "" {
		lctx, err := h.emailLimiter.Get(r.Context(), "magic_link_email:"+email)
		if err != nil {
			// Fail open: the limiter store being down should not block login
			h.log.Warn("magic_link_rate_limit_check_failed", zap.Error(err))
		} else if lctx.Reached {
			h.respondRateLimited(w, r, lctx.Reset, "Too many magic link requests for this email")
			return
		}
	}

	receipt, err := h.magicLinks.Request(r.Context(), email, req.AnonymousUserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, receipt)
}

// VerifyMagicLink handles GET /auth/magic-link/verify?token&sig
func (h *AuthHandler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	tokenID, err := uuid.Parse(r.URL.Query().Get("token"))
	if err != nil {
		h.respondKindError(w, r, auth.KindValidation, "token must be a valid UUID")
		return
	}
	sig := r.URL.Query().Get("sig")
	if sig == "" {
		h.respondKindError(w, r, auth.KindValidation, "sig is required")
		return
	}

	result, err := h.magicLinks.Verify(r.Context(), tokenID, sig)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if !result.Verified {
		h.respondKindError(w, r, result.Rejection, rejectionMessage(result.Rejection))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":                "verified",
		"user_id":               result.User.ID,
		"tokens":                result.Tokens,
		"merged_anonymous_data": result.MergedAnonymousData,
	})
}

// GetOAuthURLs handles GET /auth/oauth/urls
func (h *AuthHandler) GetOAuthURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := h.oauthURLs.AuthorizeURLs(r.Context())
	if err != nil {
		h.respondKindError(w, r, auth.KindInternal, "Failed to build authorization URLs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"providers": urls})
}

// OAuthCallback handles POST /auth/oauth/callback
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider        string     `json:"provider"`
		Code            string     `json:"code"`
		AnonymousUserID *uuid.UUID `json:"anonymous_user_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondKindError(w, r, auth.KindValidation, "Invalid request body")
		return
	}

	result, err := h.oauth.Callback(r.Context(), req.Provider, req.Code, req.AnonymousUserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if result.Status == auth.CallbackConflict {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":            auth.CallbackConflict,
			"existing_provider": result.ExistingProvider,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":                auth.CallbackAuthenticated,
		"user_id":               result.User.ID,
		"tokens":                result.Tokens,
		"is_new_user":           result.IsNewUser,
		"merged_anonymous_data": result.MergedAnonymousData,
	})
}

// CheckEmail handles POST /auth/check-email
func (h *AuthHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondKindError(w, r, auth.KindValidation, "Invalid request body")
		return
	}

	status, err := h.oauth.CheckEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// LinkAccounts handles POST /auth/link-accounts
func (h *AuthHandler) LinkAccounts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		Provider     string `json:"provider"`
		Confirmation bool   `json:"confirmation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondKindError(w, r, auth.KindValidation, "Invalid request body")
		return
	}

	user, err := h.oauth.LinkAccounts(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)), req.Provider, req.Confirmation)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "linked",
		"user_id":          user.ID,
		"linked_providers": user.LinkedProviders,
	})
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondKindError(w, r, auth.KindValidation, "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		h.respondKindError(w, r, auth.KindValidation, "refresh_token is required")
		return
	}

	tokens, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tokens)
}

// SignOut handles POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r)
	if principal == nil {
		h.respondKindError(w, r, auth.KindUnauthorized, "Unauthorized")
		return
	}

	if err := h.sessions.SignOut(r.Context(), principal.Session.ID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "signed_out"})
}

// GetSession handles GET /auth/session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r)
	if principal == nil {
		h.respondKindError(w, r, auth.KindUnauthorized, "Unauthorized")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":          principal.User.ID,
		"auth_type":        principal.User.AuthType,
		"email":            principal.User.Email,
		"session_id":       principal.Session.ID,
		"started_at":       principal.Session.StartedAt.Format(time.RFC3339),
		"expires_at":       principal.Session.ExpiresAt.Format(time.RFC3339),
		"last_activity_at": principal.Session.LastActivityAt.Format(time.RFC3339),
	})
}

// ExtendSession handles POST /auth/session/extend
func (h *AuthHandler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r)
	if principal == nil {
		h.respondKindError(w, r, auth.KindUnauthorized, "Unauthorized")
		return
	}

	session, err := h.sessions.Extend(r.Context(), principal.Session.ID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "extended",
		"session_expires_at": session.ExpiresAt.Format(time.RFC3339),
	})
}

// GetMergeStatus handles GET /auth/merge-status
func (h *AuthHandler) GetMergeStatus(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r)
	if principal == nil {
		h.respondKindError(w, r, auth.KindUnauthorized, "Unauthorized")
		return
	}

	record, err := h.merger.Status(r.Context(), principal.User.ID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if record == nil {
		respondJSON(w, http.StatusOK, map[string]any{"status": "no_data"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "completed",
		"items_merged": record.ItemsMerged.Total(),
		"counts":       record.ItemsMerged,
		"merged_at":    record.MergedAt.Format(time.RFC3339),
	})
}

// statusForKind maps every service error kind to an HTTP status. The
// switch is exhaustive over the closed kind set.
func statusForKind(kind auth.ErrorKind) int {
	switch kind {
	case auth.KindValidation, auth.KindInvalidCode, auth.KindInvalidProvider,
		auth.KindTokenExpired, auth.KindTokenUsed, auth.KindTokenInvalidated,
		auth.KindInvalidSignature:
		return http.StatusBadRequest
	case auth.KindUnauthorized, auth.KindInvalidRefreshToken, auth.KindTokenRevoked:
		return http.StatusUnauthorized
	case auth.KindForbidden:
		return http.StatusForbidden
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	case auth.KindRateLimited:
		return http.StatusTooManyRequests
	case auth.KindDatabase, auth.KindSecret, auth.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func rejectionMessage(kind auth.ErrorKind) string {
	switch kind {
	case auth.KindTokenUsed:
		return "This link has already been used"
	case auth.KindTokenExpired:
		return "This link has expired"
	case auth.KindTokenInvalidated:
		return "This link is no longer valid"
	case auth.KindInvalidSignature:
		return "The link signature is invalid"
	default:
		return "This link cannot be verified"
	}
}

// respondKindError writes an error body carrying the kind and request id
func (h *AuthHandler) respondKindError(w http.ResponseWriter, r *http.Request, kind auth.ErrorKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))

	response := map[string]any{
		"success":    false,
		"error":      string(kind),
		"message":    sanitizeErrorMessage(message),
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondRateLimited writes a 429 telling the caller how long to wait,
// both as a Retry-After header and in the body.
func (h *AuthHandler) respondRateLimited(w http.ResponseWriter, r *http.Request, resetUnix int64, message string) {
	var retryAfter int64
	if d := resetUnix - time.Now().Unix(); d > 0 {
		retryAfter = d
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	response := map[string]any{
		"success":             false,
		"error":               string(auth.KindRateLimited),
		"message":             sanitizeErrorMessage(message),
		"retry_after_seconds": retryAfter,
		"request_id":          middleware.RequestIDFromContext(r.Context()),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondServiceError logs the full cause and returns the sanitized kind
// and message to the caller
func (h *AuthHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	if statusForKind(kind) >= http.StatusInternalServerError {
		h.log.Error("auth_request_failed",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	h.respondKindError(w, r, kind, auth.MessageOf(err))
}
