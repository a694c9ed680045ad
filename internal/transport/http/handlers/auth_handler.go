package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gatewaylabs/bffgate/backend/internal/domain/model"
	"github.com/gatewaylabs/bffgate/backend/internal/services/auth"
	"github.com/gatewaylabs/bffgate/backend/internal/services/tokens"
	"github.com/gatewaylabs/bffgate/backend/internal/transport/http/dto"
	httperrors "github.com/gatewaylabs/bffgate/backend/internal/transport/http/errors"
)

type TokenCoordinator interface {
	ExchangeAuthorizationCode(ctx context.Context, params tokens.ExchangeParams) (tokens.ExchangeResult, error)
	RefreshAccessToken(ctx context.Context, sessionID string) (tokens.TokenPair, error)
	Logout(ctx context.Context, sessionID string)
}

type SessionManager interface {
	RevokeSession(ctx context.Context, sessionID, reason string, notifyUser bool) error
	RevokeAllSessions(ctx context.Context, userID, reason string, notifyUser bool) (int, error)
	RevokeOtherSessions(ctx context.Context, userID, currentSessionID, reason string, notifyUser bool) (int, error)
	ListSessions(ctx context.Context, userID string) ([]model.Session, error)
}

type AuthHandler struct {
	coordinator TokenCoordinator
	sessions    SessionManager
	cookies     *auth.CookieManager
	logger      *zap.Logger
}

func NewAuthHandler(coordinator TokenCoordinator, sessions SessionManager, cookies *auth.CookieManager, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		coordinator: coordinator,
		sessions:    sessions,
		cookies:     cookies,
		logger:      logger,
	}
}

// Login exchanges an authorization code for a session. The browser only ever
// receives the session cookie; tokens stay server side.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httperrors.BadRequest(w, "code is required")
		return
	}

	deviceID := strings.TrimSpace(r.Header.Get("X-Device-Id"))
	if deviceID == "" {
		httperrors.BadRequest(w, "X-Device-Id header is required")
		return
	}

	result, err := h.coordinator.ExchangeAuthorizationCode(r.Context(), tokens.ExchangeParams{
		Code:         req.Code,
		CodeVerifier: req.CodeVerifier,
		RedirectURI:  req.RedirectURI,
		DeviceID:     deviceID,
		DeviceName:   strings.TrimSpace(r.Header.Get("X-Device-Name")),
		UserAgent:    r.UserAgent(),
		IPAddress:    clientIP(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, tokens.ErrInvalidInput):
			httperrors.BadRequest(w, "invalid login request")
		case errors.Is(err, tokens.ErrUnauthorized):
			httperrors.Unauthorized(w, "LOGIN_FAILED", "authorization code rejected")
		case errors.Is(err, tokens.ErrUpstreamUnavailable):
			httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
				Code:    "UPSTREAM_UNAVAILABLE",
				Message: "identity provider unavailable",
			})
		default:
			h.logger.Error("login failed", zap.Error(err))
			httperrors.Internal(w)
		}
		return
	}

	cookie, err := h.cookies.Issue(result.Session.UserID, result.Session.ID)
	if err != nil {
		h.logger.Error("failed to issue session cookie", zap.Error(err))
		httperrors.Internal(w)
		return
	}
	http.SetCookie(w, cookie)

	writeJSON(w, http.StatusOK, dto.LoginResponse{
		UserID:    result.Session.UserID,
		SessionID: result.Session.ID,
	})
}

// Refresh forces a token refresh for the current session. The new access
// token stays server side; the client learns only that it succeeded.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, "REAUTH_REQUIRED", "authentication required")
		return
	}

	pair, err := h.coordinator.RefreshAccessToken(r.Context(), identity.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, tokens.ErrStaleRefreshToken):
			// Another request already rotated; the session itself is fine.
			writeJSON(w, http.StatusOK, dto.RefreshResponse{OK: true})
		case errors.Is(err, tokens.ErrUnauthorized):
			http.SetCookie(w, h.cookies.Clear())
			httperrors.Unauthorized(w, "REAUTH_REQUIRED", "session requires re-authentication")
		case errors.Is(err, tokens.ErrUpstreamUnavailable):
			httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
				Code:    "UPSTREAM_UNAVAILABLE",
				Message: "identity provider unavailable",
			})
		default:
			h.logger.Error("refresh failed",
				zap.String("session_id", identity.SessionID), zap.Error(err))
			httperrors.Internal(w)
		}
		return
	}

	writeJSON(w, http.StatusOK, dto.RefreshResponse{
		OK:                 true,
		AccessExpiresInSec: int64(time.Until(pair.AccessExpiresAt).Seconds()),
	})
}

// Logout ends the current session and clears the cookie. Provider-side
// revocation is best effort; local revocation always happens.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, "REAUTH_REQUIRED", "authentication required")
		return
	}

	h.coordinator.Logout(r.Context(), identity.SessionID)
	if err := h.sessions.RevokeSession(r.Context(), identity.SessionID, "user_logout", false); err != nil {
		h.logger.Error("failed to revoke session on logout",
			zap.String("session_id", identity.SessionID), zap.Error(err))
		httperrors.Internal(w)
		return
	}

	http.SetCookie(w, h.cookies.Clear())
	writeJSON(w, http.StatusOK, dto.LogoutResponse{OK: true})
}

// LogoutAll revokes every session of the user, this one included.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, "REAUTH_REQUIRED", "authentication required")
		return
	}

	h.coordinator.Logout(r.Context(), identity.SessionID)
	count, err := h.sessions.RevokeAllSessions(r.Context(), identity.UserID, "user_logout_all", true)
	if err != nil {
		h.logger.Error("failed to revoke all sessions",
			zap.String("user_id", identity.UserID), zap.Error(err))
		if count == 0 {
			httperrors.Internal(w)
			return
		}
	}

	http.SetCookie(w, h.cookies.Clear())
	writeJSON(w, http.StatusOK, dto.BulkLogoutResponse{RevokedCount: count})
}

// LogoutOthers revokes every session of the user except the current one.
func (h *AuthHandler) LogoutOthers(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, "REAUTH_REQUIRED", "authentication required")
		return
	}

	count, err := h.sessions.RevokeOtherSessions(r.Context(), identity.UserID, identity.SessionID, "user_logout_others", true)
	if err != nil {
		h.logger.Error("failed to revoke other sessions",
			zap.String("user_id", identity.UserID), zap.Error(err))
		if count == 0 {
			httperrors.Internal(w)
			return
		}
	}

	writeJSON(w, http.StatusOK, dto.BulkLogoutResponse{RevokedCount: count})
}

// ListSessions returns the user's sessions with the current one flagged.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, "REAUTH_REQUIRED", "authentication required")
		return
	}

	list, err := h.sessions.ListSessions(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("failed to list sessions",
			zap.String("user_id", identity.UserID), zap.Error(err))
		httperrors.Internal(w)
		return
	}

	resp := dto.ListSessionsResponse{Sessions: make([]dto.SessionView, 0, len(list))}
	for _, session := range list {
		resp.Sessions = append(resp.Sessions, dto.SessionViewOf(session, identity.SessionID))
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
