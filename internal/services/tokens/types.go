package tokens

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrStaleRefreshToken   = errors.New("stale refresh token")
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")
)

// TokenResponse is the identity provider's answer to a token-endpoint call.
type TokenResponse struct {
	AccessToken           string
	ExpiresIn             time.Duration
	RefreshToken          string
	RefreshTokenExpiresIn time.Duration
}

type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type CachedToken struct {
	Token        string
	ExpiresAt    time.Time
	CachedAt     time.Time
	NeedsRefresh bool
}
