// Package oidc is a thin client for the external token issuer. Only the
// token, revocation and introspection endpoints are consumed; the issuer's
// protocol state machine lives elsewhere.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	// IssuerURL is the base URL of the token issuer.
	IssuerURL    string
	ClientID     string
	ClientSecret string
	// Timeout bounds every outbound call. Failed calls are never retried
	// here; the caller decides whether to force re-authentication.
	Timeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

type Client struct {
	tokenURL      string
	revocationURL string
	introspectURL string
	discoveryURL  string
	clientID      string
	clientSecret  string
	httpClient    *http.Client
}

// TokenResponse is the issuer's answer from the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// IntrospectionResponse is the issuer's answer from the introspection endpoint.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub"`
	ClientID  string `json:"client_id"`
	TokenType string `json:"token_type"`
	ExpiresAt int64  `json:"exp"`
}

// DiscoveryDocument holds the endpoints advertised by the issuer.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	TokenEndpoint         string `json:"token_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// TokenError is an RFC 6749 error payload from the token endpoint.
type TokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *TokenError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token endpoint error: %s - %s", e.Code, e.Description)
	}
	return fmt.Sprintf("token endpoint error: %s", e.Code)
}

// IsInvalidGrant reports whether err is the issuer rejecting the grant
// itself (bad credentials, consumed refresh token) rather than failing.
func IsInvalidGrant(err error) bool {
	te, ok := err.(*TokenError)
	return ok && te.Code == "invalid_grant"
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.IssuerURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		tokenURL:      base + "/token",
		revocationURL: base + "/revocation",
		introspectURL: base + "/introspect",
		discoveryURL:  base + "/.well-known/openid-configuration",
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		httpClient:    httpClient,
	}
}

// Timeout reports the per-call deadline applied to issuer requests.
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// PasswordGrant exchanges resource-owner credentials for a token set.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
		"scope":      {"openid offline_access"},
	}
	return c.doTokenRequest(ctx, data)
}

// ClientCredentialsGrant obtains a service-to-service token.
func (c *Client) ClientCredentialsGrant(ctx context.Context, scope string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"client_credentials"},
	}
	if scope != "" {
		data.Set("scope", scope)
	}
	return c.doTokenRequest(ctx, data)
}

// AuthorizationCodeGrant exchanges an authorization code for a token set.
func (c *Client) AuthorizationCodeGrant(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}
	return c.doTokenRequest(ctx, data)
}

// Refresh performs a refresh_token grant. The issuer may rotate the
// refresh token; callers must persist the returned one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.doTokenRequest(ctx, data)
}

// Revoke invalidates a token at the issuer. tokenTypeHint is
// "access_token" or "refresh_token".
func (c *Client) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	data := url.Values{
		"token":     {token},
		"client_id": {c.clientID},
	}
	if c.clientSecret != "" {
		data.Set("client_secret", c.clientSecret)
	}
	if tokenTypeHint != "" {
		data.Set("token_type_hint", tokenTypeHint)
	}

	resp, err := c.postForm(ctx, c.revocationURL, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("revocation endpoint returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Introspect asks the issuer whether a token is still active.
func (c *Client) Introspect(ctx context.Context, token string) (*IntrospectionResponse, error) {
	data := url.Values{
		"token":     {token},
		"client_id": {c.clientID},
	}
	if c.clientSecret != "" {
		data.Set("client_secret", c.clientSecret)
	}

	resp, err := c.postForm(ctx, c.introspectURL, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read introspection response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var out IntrospectionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse introspection response: %w", err)
	}
	return &out, nil
}

// Discover fetches the issuer's discovery document.
func (c *Client) Discover(ctx context.Context) (*DiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}
	return &doc, nil
}

func (c *Client) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	data.Set("client_id", c.clientID)
	if c.clientSecret != "" {
		data.Set("client_secret", c.clientSecret)
	}

	resp, err := c.postForm(ctx, c.tokenURL, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var tokenErr TokenError
		if jsonErr := json.Unmarshal(body, &tokenErr); jsonErr == nil && tokenErr.Code != "" {
			return nil, &tokenErr
		}
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &tokenResp, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to token issuer failed: %w", err)
	}
	return resp, nil
}
