package model

import (
	"time"

	"github.com/gatewaylabs/bffgate/backend/internal/domain/enums"
)

// Session is the durable record of one browser login. RefreshTokenHash is a
// keyed hash of the refresh token secret; the raw secret is never persisted.
type Session struct {
	ID                    string
	UserID                string
	DeviceID              string
	DeviceName            *string
	UserAgent             *string
	IPAddress             *string
	Status                enums.SessionStatus
	CreatedAt             time.Time
	LastActivityAt        time.Time
	RevokedAt             *time.Time
	RevocationReason      *string
	RefreshTokenHash      string
	RefreshTokenExpiresAt *time.Time
}
