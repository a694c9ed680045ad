package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gatewaylabs/bffgate/backend/internal/services/tokens"
)

// Client talks to the identity provider's OAuth token and revocation
// endpoints using form-encoded requests per RFC 6749 and RFC 7009.
type Client struct {
	tokenURL      string
	revocationURL string
	clientID      string
	clientSecret  string
	httpClient    *http.Client
}

func NewClient(tokenURL, revocationURL, clientID, clientSecret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		tokenURL:      tokenURL,
		revocationURL: revocationURL,
		clientID:      clientID,
		clientSecret:  clientSecret,
		httpClient:    httpClient,
	}
}

type tokenPayload struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
}

func (c *Client) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (tokens.TokenResponse, error) {
	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	return c.tokenRequest(ctx, form)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (tokens.TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.tokenRequest(ctx, form)
}

func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	if c.revocationURL == "" {
		return nil
	}

	form := url.Values{
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}
	resp, err := c.post(ctx, c.revocationURL, form)
	if err != nil {
		return fmt.Errorf("revocation request: %w", tokens.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("revocation endpoint returned %d: %w", resp.StatusCode, tokens.ErrUpstreamUnavailable)
	}
	return nil
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (tokens.TokenResponse, error) {
	resp, err := c.post(ctx, c.tokenURL, form)
	if err != nil {
		return tokens.TokenResponse{}, fmt.Errorf("token request: %w", tokens.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tokens.TokenResponse{}, fmt.Errorf("read token response: %w", tokens.ErrUpstreamUnavailable)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return tokens.TokenResponse{}, fmt.Errorf("provider rejected the grant (%d): %w", resp.StatusCode, tokens.ErrUnauthorized)
	default:
		return tokens.TokenResponse{}, fmt.Errorf("token endpoint returned %d: %w", resp.StatusCode, tokens.ErrUpstreamUnavailable)
	}

	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return tokens.TokenResponse{}, fmt.Errorf("decode token response: %w", tokens.ErrUpstreamUnavailable)
	}
	if payload.AccessToken == "" {
		return tokens.TokenResponse{}, fmt.Errorf("token response missing access_token: %w", tokens.ErrUpstreamUnavailable)
	}

	return tokens.TokenResponse{
		AccessToken:           payload.AccessToken,
		ExpiresIn:             time.Duration(payload.ExpiresIn) * time.Second,
		RefreshToken:          payload.RefreshToken,
		RefreshTokenExpiresIn: time.Duration(payload.RefreshTokenExpiresIn) * time.Second,
	}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.clientID != "" {
		req.SetBasicAuth(url.QueryEscape(c.clientID), url.QueryEscape(c.clientSecret))
	}
	return c.httpClient.Do(req)
}
