package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gatewaylabs/bffgate/backend/internal/domain/enums"
	"github.com/gatewaylabs/bffgate/backend/internal/domain/model"
	"github.com/gatewaylabs/bffgate/backend/internal/services/auth"
	"github.com/gatewaylabs/bffgate/backend/internal/services/tokens"
	"github.com/gatewaylabs/bffgate/backend/internal/transport/http/dto"
)

type fakeCoordinator struct {
	exchangeResult tokens.ExchangeResult
	exchangeErr    error
	exchangeParams tokens.ExchangeParams
	refreshPair    tokens.TokenPair
	refreshErr     error
	loggedOut      []string
}

func (f *fakeCoordinator) ExchangeAuthorizationCode(_ context.Context, params tokens.ExchangeParams) (tokens.ExchangeResult, error) {
	f.exchangeParams = params
	return f.exchangeResult, f.exchangeErr
}

func (f *fakeCoordinator) RefreshAccessToken(_ context.Context, _ string) (tokens.TokenPair, error) {
	return f.refreshPair, f.refreshErr
}

func (f *fakeCoordinator) Logout(_ context.Context, sessionID string) {
	f.loggedOut = append(f.loggedOut, sessionID)
}

type fakeSessionManager struct {
	revoked       []string
	revokeErr     error
	revokeAllN    int
	revokeOthersN int
	sessions      []model.Session
}

func (f *fakeSessionManager) RevokeSession(_ context.Context, sessionID, _ string, _ bool) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked = append(f.revoked, sessionID)
	return nil
}

func (f *fakeSessionManager) RevokeAllSessions(_ context.Context, _, _ string, _ bool) (int, error) {
	return f.revokeAllN, nil
}

func (f *fakeSessionManager) RevokeOtherSessions(_ context.Context, _, _, _ string, _ bool) (int, error) {
	return f.revokeOthersN, nil
}

func (f *fakeSessionManager) ListSessions(_ context.Context, _ string) ([]model.Session, error) {
	return f.sessions, nil
}

type handlerFixture struct {
	handler     *AuthHandler
	coordinator *fakeCoordinator
	manager     *fakeSessionManager
	cookies     *auth.CookieManager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	coordinator := &fakeCoordinator{}
	manager := &fakeSessionManager{}
	cookies := auth.NewCookieManager("__bff_session", "test-secret", 720*time.Hour, false)

	return &handlerFixture{
		handler:     NewAuthHandler(coordinator, manager, cookies, zap.NewNop()),
		coordinator: coordinator,
		manager:     manager,
		cookies:     cookies,
	}
}

func authedRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{
		UserID:    "user-1",
		SessionID: "sess-1",
	}))
}

func findCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestLoginSetsCookieWithoutExposingTokens(t *testing.T) {
	f := newHandlerFixture(t)
	f.coordinator.exchangeResult = tokens.ExchangeResult{
		Session:     model.Session{ID: "sess-1", UserID: "user-1"},
		AccessToken: "secret-access-token",
	}

	r := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"code":"auth-code","code_verifier":"v"}`))
	r.Header.Set("X-Device-Id", "device-1")
	r.Header.Set("X-Device-Name", "Laptop")
	w := httptest.NewRecorder()

	f.handler.Login(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "secret-access-token") {
		t.Fatal("access token must never appear in the response body")
	}

	cookie := findCookie(t, w, "__bff_session")
	if cookie == nil || !cookie.HttpOnly {
		t.Fatal("expected an HttpOnly session cookie")
	}

	if f.coordinator.exchangeParams.DeviceID != "device-1" {
		t.Fatalf("expected device id to be forwarded, got %q", f.coordinator.exchangeParams.DeviceID)
	}
	if f.coordinator.exchangeParams.DeviceName != "Laptop" {
		t.Fatalf("expected device name to be forwarded, got %q", f.coordinator.exchangeParams.DeviceName)
	}
}

func TestLoginRequiresDeviceID(t *testing.T) {
	f := newHandlerFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"code":"c"}`))
	w := httptest.NewRecorder()

	f.handler.Login(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without X-Device-Id, got %d", w.Code)
	}
}

func TestLoginMapsProviderErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"rejected code", tokens.ErrUnauthorized, http.StatusUnauthorized},
		{"provider down", tokens.ErrUpstreamUnavailable, http.StatusBadGateway},
		{"bad input", tokens.ErrInvalidInput, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.coordinator.exchangeErr = tc.err

			r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"code":"c"}`))
			r.Header.Set("X-Device-Id", "device-1")
			w := httptest.NewRecorder()

			f.handler.Login(w, r)

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestRefreshReportsExpiry(t *testing.T) {
	f := newHandlerFixture(t)
	f.coordinator.refreshPair = tokens.TokenPair{
		AccessToken:     "new-access",
		AccessExpiresAt: time.Now().Add(time.Hour),
	}

	w := httptest.NewRecorder()
	f.handler.Refresh(w, authedRequest(http.MethodPost, "/auth/refresh", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "new-access") {
		t.Fatal("access token must never appear in the response body")
	}

	var resp dto.RefreshResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.AccessExpiresInSec < 3590 || resp.AccessExpiresInSec > 3600 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRefreshStaleIsStillOK(t *testing.T) {
	f := newHandlerFixture(t)
	f.coordinator.refreshErr = tokens.ErrStaleRefreshToken

	w := httptest.NewRecorder()
	f.handler.Refresh(w, authedRequest(http.MethodPost, "/auth/refresh", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("a lost refresh race is not an error, got %d", w.Code)
	}
}

func TestRefreshUnauthorizedClearsCookie(t *testing.T) {
	f := newHandlerFixture(t)
	f.coordinator.refreshErr = tokens.ErrUnauthorized

	w := httptest.NewRecorder()
	f.handler.Refresh(w, authedRequest(http.MethodPost, "/auth/refresh", ""))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	cookie := findCookie(t, w, "__bff_session")
	if cookie == nil || cookie.MaxAge != -1 {
		t.Fatal("expected the session cookie to be cleared")
	}
}

func TestLogout(t *testing.T) {
	f := newHandlerFixture(t)

	w := httptest.NewRecorder()
	f.handler.Logout(w, authedRequest(http.MethodPost, "/auth/logout", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.coordinator.loggedOut) != 1 || f.coordinator.loggedOut[0] != "sess-1" {
		t.Fatal("expected provider-side logout")
	}
	if len(f.manager.revoked) != 1 || f.manager.revoked[0] != "sess-1" {
		t.Fatal("expected local revocation")
	}
	cookie := findCookie(t, w, "__bff_session")
	if cookie == nil || cookie.MaxAge != -1 {
		t.Fatal("expected the session cookie to be cleared")
	}
}

func TestLogoutAll(t *testing.T) {
	f := newHandlerFixture(t)
	f.manager.revokeAllN = 3

	w := httptest.NewRecorder()
	f.handler.LogoutAll(w, authedRequest(http.MethodPost, "/auth/logout-all", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp dto.BulkLogoutResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RevokedCount != 3 {
		t.Fatalf("expected 3 revoked, got %d", resp.RevokedCount)
	}
	cookie := findCookie(t, w, "__bff_session")
	if cookie == nil || cookie.MaxAge != -1 {
		t.Fatal("expected the session cookie to be cleared")
	}
}

func TestLogoutOthersKeepsCookie(t *testing.T) {
	f := newHandlerFixture(t)
	f.manager.revokeOthersN = 2

	w := httptest.NewRecorder()
	f.handler.LogoutOthers(w, authedRequest(http.MethodPost, "/auth/logout-others", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if cookie := findCookie(t, w, "__bff_session"); cookie != nil {
		t.Fatal("logout-others must not touch the current cookie")
	}
}

func TestListSessionsFlagsCurrent(t *testing.T) {
	f := newHandlerFixture(t)
	name := "Laptop"
	f.manager.sessions = []model.Session{
		{ID: "sess-1", UserID: "user-1", DeviceID: "d1", DeviceName: &name, Status: enums.SessionStatusActive},
		{ID: "sess-2", UserID: "user-1", DeviceID: "d2", Status: enums.SessionStatusRevoked},
	}

	w := httptest.NewRecorder()
	f.handler.ListSessions(w, authedRequest(http.MethodGet, "/auth/sessions", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp dto.ListSessionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(resp.Sessions))
	}
	if !resp.Sessions[0].Current || resp.Sessions[1].Current {
		t.Fatal("only the cookie's session may be flagged current")
	}
	if resp.Sessions[0].DeviceName != "Laptop" {
		t.Fatalf("expected device name, got %q", resp.Sessions[0].DeviceName)
	}
}

func TestEndpointsRequireIdentity(t *testing.T) {
	f := newHandlerFixture(t)

	endpoints := map[string]http.HandlerFunc{
		"refresh":       f.handler.Refresh,
		"logout":        f.handler.Logout,
		"logout-all":    f.handler.LogoutAll,
		"logout-others": f.handler.LogoutOthers,
		"sessions":      f.handler.ListSessions,
	}

	for name, endpoint := range endpoints {
		w := httptest.NewRecorder()
		endpoint(w, httptest.NewRequest(http.MethodPost, "/auth/"+name, nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without identity, got %d", name, w.Code)
		}
	}
}
