package dto

type LoginRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

type LoginResponse struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type RefreshResponse struct {
	OK                 bool  `json:"ok"`
	AccessExpiresInSec int64 `json:"access_expires_in_sec"`
}

type LogoutResponse struct {
	OK bool `json:"ok"`
}

type BulkLogoutResponse struct {
	RevokedCount int `json:"revoked_count"`
}
