package enums

type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusRevoked SessionStatus = "revoked"
	SessionStatusExpired SessionStatus = "expired"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionStatusRevoked || s == SessionStatusExpired
}
