package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoCookie      = errors.New("session cookie missing")
	ErrInvalidCookie = errors.New("session cookie invalid")
)

// CookieManager issues and parses the HttpOnly session cookie. The cookie
// carries only the user and session ids as a signed JWT; access and refresh
// tokens never reach the browser.
type CookieManager struct {
	name   string
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewCookieManager(name, secret string, ttl time.Duration, secure bool) *CookieManager {
	return &CookieManager{
		name:   name,
		secret: []byte(secret),
		ttl:    ttl,
		secure: secure,
		now:    time.Now,
	}
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func (m *CookieManager) Issue(userID, sessionID string) (*http.Cookie, error) {
	now := m.now()
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session cookie: %w", err)
	}

	return &http.Cookie{
		Name:     m.name,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Clear returns an expired cookie that removes the session from the browser.
func (m *CookieManager) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *CookieManager) Parse(r *http.Request) (Identity, error) {
	cookie, err := r.Cookie(m.name)
	if err != nil {
		return Identity{}, ErrNoCookie
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidCookie
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return Identity{}, ErrInvalidCookie
	}

	return Identity{UserID: claims.Subject, SessionID: claims.SessionID}, nil
}
