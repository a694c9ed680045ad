package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gatewaylabs/bffgate/backend/internal/services/tokens"
)

func TestClientRefresh(t *testing.T) {
	var gotGrant, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotGrant = r.PostFormValue("grant_type")
		gotToken = r.PostFormValue("refresh_token")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "access-v2",
			"expires_in": 3600,
			"refresh_token": "refresh-v2",
			"refresh_token_expires_in": 2592000
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "client-id", "client-secret", srv.Client())

	resp, err := client.Refresh(context.Background(), "refresh-v1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if gotGrant != "refresh_token" || gotToken != "refresh-v1" {
		t.Fatalf("unexpected form: grant=%q token=%q", gotGrant, gotToken)
	}
	if resp.AccessToken != "access-v2" || resp.RefreshToken != "refresh-v2" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ExpiresIn != time.Hour {
		t.Fatalf("expected 1h expires_in, got %v", resp.ExpiresIn)
	}
	if resp.RefreshTokenExpiresIn != 30*24*time.Hour {
		t.Fatalf("expected 30d refresh expiry, got %v", resp.RefreshTokenExpiresIn)
	}
}

func TestClientExchangeSendsPKCEFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostFormValue("grant_type") != "authorization_code" {
			t.Errorf("unexpected grant_type %q", r.PostFormValue("grant_type"))
		}
		if r.PostFormValue("code_verifier") != "verifier" {
			t.Errorf("missing code_verifier")
		}
		if r.PostFormValue("redirect_uri") != "https://app.example.com/cb" {
			t.Errorf("missing redirect_uri")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "access-v1", "expires_in": 600, "refresh_token": "refresh-v1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "client-id", "client-secret", srv.Client())

	resp, err := client.Exchange(context.Background(), "auth-code", "verifier", "https://app.example.com/cb")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if resp.AccessToken != "access-v1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientMapsRejectionToUnauthorized(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, status)
		}))

		client := NewClient(srv.URL, "", "client-id", "client-secret", srv.Client())
		_, err := client.Refresh(context.Background(), "bad-token")
		srv.Close()

		if !errors.Is(err, tokens.ErrUnauthorized) {
			t.Fatalf("status %d: expected ErrUnauthorized, got %v", status, err)
		}
	}
}

func TestClientMapsServerErrorsToUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "client-id", "client-secret", srv.Client())

	_, err := client.Refresh(context.Background(), "refresh-v1")
	if !errors.Is(err, tokens.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestClientMapsNetworkErrorToUpstreamUnavailable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", "client-id", "client-secret",
		&http.Client{Timeout: 200 * time.Millisecond})

	_, err := client.Refresh(context.Background(), "refresh-v1")
	if !errors.Is(err, tokens.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestClientRevoke(t *testing.T) {
	var gotToken, gotHint string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotToken = r.PostFormValue("token")
		gotHint = r.PostFormValue("token_type_hint")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient("", srv.URL, "client-id", "client-secret", srv.Client())

	if err := client.Revoke(context.Background(), "refresh-v1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if gotToken != "refresh-v1" || gotHint != "refresh_token" {
		t.Fatalf("unexpected form: token=%q hint=%q", gotToken, gotHint)
	}
}

func TestClientRevokeWithoutEndpointIsNoop(t *testing.T) {
	client := NewClient("http://unused", "", "client-id", "client-secret", nil)

	if err := client.Revoke(context.Background(), "refresh-v1"); err != nil {
		t.Fatalf("expected no-op without a revocation endpoint, got %v", err)
	}
}
