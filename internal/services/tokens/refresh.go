package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/gatewaylabs/bffgate/backend/internal/domain/enums"
	"github.com/gatewaylabs/bffgate/backend/internal/domain/model"
	"github.com/gatewaylabs/bffgate/backend/internal/services/sessions"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 100 * time.Millisecond

	fallbackAccessTTL = time.Minute
)

// IdentityProvider is the upstream OAuth token endpoint.
type IdentityProvider interface {
	Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (TokenResponse, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// SessionLifecycle is the slice of the session service the coordinator needs.
type SessionLifecycle interface {
	CreateSession(ctx context.Context, params sessions.CreateParams) (model.Session, error)
	GetSession(ctx context.Context, sessionID string) (model.Session, bool, error)
	RotateRefreshHash(ctx context.Context, sessionID, oldHash, newHash string, expiresAt *time.Time) error
	RevokeSession(ctx context.Context, sessionID, reason string, notifyUser bool) error
}

// Coordinator owns the refresh token for every live session. It is the only
// component that ever sees the raw secret; everything else works with hashes.
type Coordinator struct {
	provider IdentityProvider
	sessions SessionLifecycle
	cache    *Cache
	hasher   *Hasher
	vault    *vault
	locks    *sessionLocks
	logger   *zap.Logger

	maxAttempts int
	retryBase   time.Duration
	now         func() time.Time
}

func NewCoordinator(provider IdentityProvider, lifecycle SessionLifecycle, cache *Cache, hasher *Hasher, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		provider:    provider,
		sessions:    lifecycle,
		cache:       cache,
		hasher:      hasher,
		vault:       newVault(),
		locks:       newSessionLocks(),
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		now:         time.Now,
	}
}

type ExchangeParams struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
	DeviceID     string
	DeviceName   string
	UserAgent    string
	IPAddress    string
}

type ExchangeResult struct {
	Session         model.Session
	AccessToken     string
	AccessExpiresAt time.Time
}

// ExchangeAuthorizationCode turns an authorization code into a session. The
// raw refresh token stays in the in-memory vault; only its hash is persisted.
func (c *Coordinator) ExchangeAuthorizationCode(ctx context.Context, params ExchangeParams) (ExchangeResult, error) {
	if strings.TrimSpace(params.Code) == "" || strings.TrimSpace(params.DeviceID) == "" {
		return ExchangeResult{}, fmt.Errorf("code and device id are required: %w", ErrInvalidInput)
	}

	resp, err := c.provider.Exchange(ctx, params.Code, params.CodeVerifier, params.RedirectURI)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return ExchangeResult{}, fmt.Errorf("provider returned incomplete token set: %w", ErrUpstreamUnavailable)
	}

	userID, err := subjectOf(resp.AccessToken)
	if err != nil {
		return ExchangeResult{}, err
	}

	now := c.now()
	var refreshExpiry *time.Time
	if resp.RefreshTokenExpiresIn > 0 {
		t := now.Add(resp.RefreshTokenExpiresIn)
		refreshExpiry = &t
	}

	session, err := c.sessions.CreateSession(ctx, sessions.CreateParams{
		UserID:                userID,
		DeviceID:              params.DeviceID,
		DeviceName:            params.DeviceName,
		UserAgent:             params.UserAgent,
		IPAddress:             params.IPAddress,
		RefreshTokenHash:      c.hasher.Hash(resp.RefreshToken),
		RefreshTokenExpiresAt: refreshExpiry,
	})
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("create session: %w", err)
	}

	c.vault.put(session.ID, resp.RefreshToken)

	accessExpiry := c.accessExpiry(resp)
	if err := c.cache.Put(userID, session.ID, resp.AccessToken, accessExpiry); err != nil {
		c.logger.Warn("failed to cache access token after exchange",
			zap.String("session_id", session.ID), zap.Error(err))
	}

	return ExchangeResult{
		Session:         session,
		AccessToken:     resp.AccessToken,
		AccessExpiresAt: accessExpiry,
	}, nil
}

// RefreshAccessToken rotates the session's refresh token and returns a fresh
// access token. Concurrent callers for the same session are serialized; the
// hash snapshot is taken before the lock, so whoever rotated first wins and
// later callers fail with ErrStaleRefreshToken instead of rotating twice.
func (c *Coordinator) RefreshAccessToken(ctx context.Context, sessionID string) (TokenPair, error) {
	if strings.TrimSpace(sessionID) == "" {
		return TokenPair{}, fmt.Errorf("session id is required: %w", ErrInvalidInput)
	}

	session, found, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return TokenPair{}, ErrUnauthorized
	}
	if session.Status != enums.SessionStatusActive {
		return TokenPair{}, fmt.Errorf("session is %s: %w", session.Status, ErrUnauthorized)
	}
	now := c.now()
	if session.RefreshTokenExpiresAt != nil && !session.RefreshTokenExpiresAt.After(now) {
		return TokenPair{}, fmt.Errorf("refresh token expired: %w", ErrUnauthorized)
	}

	oldHash := session.RefreshTokenHash

	unlock := c.locks.lock(sessionID)
	defer unlock()

	raw, ok := c.vault.get(sessionID)
	if !ok {
		return TokenPair{}, fmt.Errorf("no refresh token held for session: %w", ErrUnauthorized)
	}
	if !c.hasher.Matches(raw, oldHash) {
		// Another caller rotated between our snapshot and the lock. The
		// vault already holds the rotated secret; leave it alone.
		return TokenPair{}, ErrStaleRefreshToken
	}

	resp, err := c.refreshWithRetry(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			// Provider rejected the refresh token outright. The session is
			// unrecoverable, so revoke it rather than leave it limping.
			if revokeErr := c.sessions.RevokeSession(ctx, sessionID, "refresh_rejected", false); revokeErr != nil {
				c.logger.Error("failed to revoke session after rejected refresh",
					zap.String("session_id", sessionID), zap.Error(revokeErr))
			}
			c.vault.delete(sessionID)
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	if resp.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("provider returned empty access token: %w", ErrUpstreamUnavailable)
	}

	newRaw := resp.RefreshToken
	newHash := oldHash
	var refreshExpiry *time.Time
	if session.RefreshTokenExpiresAt != nil {
		t := *session.RefreshTokenExpiresAt
		refreshExpiry = &t
	}

	if newRaw != "" {
		newHash = c.hasher.Hash(newRaw)
		if resp.RefreshTokenExpiresIn > 0 {
			t := c.now().Add(resp.RefreshTokenExpiresIn)
			refreshExpiry = &t
		}

		if err := c.sessions.RotateRefreshHash(ctx, sessionID, oldHash, newHash, refreshExpiry); err != nil {
			if errors.Is(err, sessions.ErrHashMismatch) {
				return TokenPair{}, ErrStaleRefreshToken
			}
			return TokenPair{}, fmt.Errorf("rotate refresh hash: %w", err)
		}
		c.vault.put(sessionID, newRaw)
	}

	accessExpiry := c.accessExpiry(resp)
	if err := c.cache.Put(session.UserID, sessionID, resp.AccessToken, accessExpiry); err != nil {
		c.logger.Warn("failed to cache refreshed access token",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	pair := TokenPair{
		AccessToken:     resp.AccessToken,
		AccessExpiresAt: accessExpiry,
	}
	if refreshExpiry != nil {
		pair.RefreshExpiresAt = *refreshExpiry
	}
	return pair, nil
}

// Logout revokes the refresh token at the provider on a best-effort basis and
// drops the vault entry. Session state is the caller's responsibility.
func (c *Coordinator) Logout(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}

	if raw, ok := c.vault.get(sessionID); ok {
		if err := c.provider.Revoke(ctx, raw); err != nil {
			c.logger.Warn("provider revocation failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	c.vault.delete(sessionID)
}

// Invalidate drops the cached access token and the raw refresh secret for a
// session. The lifecycle service calls it for every session it revokes or
// expires, so a terminal session never leaves a live secret in memory.
func (c *Coordinator) Invalidate(userID, sessionID string) {
	c.cache.Invalidate(userID, sessionID)
	c.vault.delete(sessionID)
}

func (c *Coordinator) refreshWithRetry(ctx context.Context, refreshToken string) (TokenResponse, error) {
	var lastErr error
	delay := c.retryBase

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.provider.Refresh(ctx, refreshToken)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrUpstreamUnavailable) {
			return TokenResponse{}, err
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return TokenResponse{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return TokenResponse{}, fmt.Errorf("refresh failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Coordinator) accessExpiry(resp TokenResponse) time.Time {
	now := c.now()
	if resp.ExpiresIn > 0 {
		return now.Add(resp.ExpiresIn)
	}
	if exp, err := expiryOf(resp.AccessToken); err == nil {
		return exp
	}
	return now.Add(fallbackAccessTTL)
}

func subjectOf(accessToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("parse access token: %w", ErrUnauthorized)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("access token has no subject: %w", ErrUnauthorized)
	}
	return sub, nil
}

func expiryOf(accessToken string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("no exp claim")
	}
	return exp.Time, nil
}
