package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/gatewaylabs/bffgate/backend/internal/domain/enums"
	"github.com/gatewaylabs/bffgate/backend/internal/domain/model"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("session not found")
	ErrHashMismatch    = errors.New("refresh token hash mismatch")
	ErrCacheMiss       = errors.New("cache miss")
)

type CreateParams struct {
	UserID                string
	DeviceID              string
	DeviceName            string
	UserAgent             string
	IPAddress             string
	RefreshTokenHash      string
	RefreshTokenExpiresAt *time.Time
}

// SessionInfo is the hot projection of a session kept in redis so the request
// path does not hit postgres.
type SessionInfo struct {
	SessionID string
	UserID    string
	Status    enums.SessionStatus
	// LastActivityAt moves on every request; ActivitySyncedAt only when the
	// durable record was written, so frequent requests cannot starve the
	// postgres write forever.
	LastActivityAt        time.Time
	ActivitySyncedAt      time.Time
	RefreshTokenExpiresAt time.Time
}

type ExpiredSession struct {
	ID     string
	UserID string
}

// SessionStore is the durable record of sessions.
type SessionStore interface {
	Create(ctx context.Context, session model.Session) error
	GetByID(ctx context.Context, id string) (model.Session, error)
	GetByUser(ctx context.Context, userID string) ([]model.Session, error)
	GetActiveByUser(ctx context.Context, userID string) ([]model.Session, error)
	TouchActivity(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id, reason string, at time.Time) (model.Session, error)
	RotateRefreshHash(ctx context.Context, id, oldHash, newHash string, expiresAt *time.Time) error
	MarkExpiredBefore(ctx context.Context, cutoff time.Time) ([]ExpiredSession, error)
}

// ProjectionCache holds SessionInfo keyed by session id.
type ProjectionCache interface {
	Get(ctx context.Context, sessionID string) (SessionInfo, error)
	Put(ctx context.Context, info SessionInfo) error
	Invalidate(ctx context.Context, sessionID string) error
}

// AccessTokenInvalidator drops cached access tokens for a session.
type AccessTokenInvalidator interface {
	Invalidate(userID, sessionID string)
}

// RevocationMarker records a revoked session so stale cached tokens are
// rejected even before their TTL runs out.
type RevocationMarker interface {
	MarkRevoked(sessionID string)
}

// Notifier delivers user-facing notices about security events.
type Notifier interface {
	NotifySessionsRevoked(ctx context.Context, userID, reason string, count int)
}
