package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/gatewaylabs/bffgate/backend/internal/services/auth"
	"github.com/gatewaylabs/bffgate/backend/internal/services/tokens"
	httperrors "github.com/gatewaylabs/bffgate/backend/internal/transport/http/errors"
)

// refreshTimeout bounds how long a proxied request waits on a synchronous
// token refresh.
const refreshTimeout = 10 * time.Second

// Response headers the upstream must not leak to the browser.
var strippedResponseHeaders = []string{
	"Set-Cookie",
	"Server",
	"X-Powered-By",
	"X-AspNet-Version",
	"X-AspNetMvc-Version",
}

type RevocationChecker interface {
	IsRevoked(sessionID string) bool
}

type TokenCache interface {
	Get(userID, sessionID string) (tokens.CachedToken, bool)
}

type Refresher interface {
	RefreshAccessToken(ctx context.Context, sessionID string) (tokens.TokenPair, error)
}

type ActivityRecorder interface {
	UpdateActivity(ctx context.Context, sessionID string) error
}

type tokenContextKey struct{}

type proxyToken struct {
	value       string
	refreshHint bool
}

// Injector fronts the upstream API. It swaps the session cookie for a bearer
// token on the way in and scrubs identifying headers on the way out.
type Injector struct {
	revocations RevocationChecker
	cache       TokenCache
	refresher   Refresher
	activity    ActivityRecorder
	logger      *zap.Logger
	reverse     *httputil.ReverseProxy
}

func NewInjector(upstream *url.URL, revocations RevocationChecker, cache TokenCache, refresher Refresher, activity ActivityRecorder, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}

	inj := &Injector{
		revocations: revocations,
		cache:       cache,
		refresher:   refresher,
		activity:    activity,
		logger:      logger,
	}

	inj.reverse = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()

			// The cookie is for the BFF only; the upstream sees a bearer.
			pr.Out.Header.Del("Cookie")
			if token, ok := pr.In.Context().Value(tokenContextKey{}).(proxyToken); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+token.value)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			for _, header := range strippedResponseHeaders {
				resp.Header.Del(header)
			}
			if token, ok := resp.Request.Context().Value(tokenContextKey{}).(proxyToken); ok && token.refreshHint {
				resp.Header.Set("X-Token-Refresh-Hint", "true")
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("upstream proxy error", zap.String("path", r.URL.Path), zap.Error(err))
			httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
				Code:    "UPSTREAM_UNAVAILABLE",
				Message: "upstream request failed",
			})
		},
	}

	return inj
}

func (p *Injector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httperrors.Unauthorized(w, "REAUTH_REQUIRED", "authentication required")
		return
	}

	// The revocation marker wins over any cached token.
	if p.revocations.IsRevoked(identity.SessionID) {
		w.Header().Set("X-Session-Revoked", "true")
		httperrors.Unauthorized(w, "SESSION_REVOKED", "session has been revoked")
		return
	}

	token, ok := p.resolveToken(w, r, identity)
	if !ok {
		return
	}

	if err := p.activity.UpdateActivity(r.Context(), identity.SessionID); err != nil {
		p.logger.Warn("failed to record session activity",
			zap.String("session_id", identity.SessionID), zap.Error(err))
	}

	ctx := context.WithValue(r.Context(), tokenContextKey{}, token)
	p.reverse.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Injector) resolveToken(w http.ResponseWriter, r *http.Request, identity auth.Identity) (proxyToken, bool) {
	if cached, ok := p.cache.Get(identity.UserID, identity.SessionID); ok {
		return proxyToken{value: cached.Token, refreshHint: cached.NeedsRefresh}, true
	}

	refreshCtx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	pair, err := p.refresher.RefreshAccessToken(refreshCtx, identity.SessionID)
	if err == nil {
		return proxyToken{value: pair.AccessToken}, true
	}

	switch {
	case errors.Is(err, tokens.ErrStaleRefreshToken):
		// A concurrent caller may have just rotated and filled the cache.
		if cached, ok := p.cache.Get(identity.UserID, identity.SessionID); ok {
			return proxyToken{value: cached.Token, refreshHint: cached.NeedsRefresh}, true
		}
		httperrors.Unauthorized(w, "REAUTH_REQUIRED", "session requires re-authentication")
	case errors.Is(err, tokens.ErrUnauthorized):
		httperrors.Unauthorized(w, "REAUTH_REQUIRED", "session requires re-authentication")
	case errors.Is(err, tokens.ErrUpstreamUnavailable):
		httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
			Code:    "UPSTREAM_UNAVAILABLE",
			Message: "identity provider unavailable",
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httperrors.Write(w, http.StatusGatewayTimeout, httperrors.APIError{
			Code:    "UPSTREAM_TIMEOUT",
			Message: "token refresh timed out",
		})
	default:
		p.logger.Error("token refresh failed",
			zap.String("session_id", identity.SessionID), zap.Error(err))
		httperrors.Internal(w)
	}
	return proxyToken{}, false
}
