// Package auth exchanges the configured API key for a short-lived bearer token.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
)

// maxTokenResponse caps how much of a token response body is read.
const maxTokenResponse = 1 << 20

// TokenSource returns a bearer token for the ingestion API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Client fetches tokens from the token endpoint. Every call to Token issues
// one request.
type Client struct {
	httpClient *http.Client
	tokenURL   string
	apiKey     string
}

// NewClient creates a token client. timeout bounds each request.
func NewClient(tokenURL, apiKey string, timeout time.Duration) *Client {
	return NewClientWithHTTP(&http.Client{Timeout: timeout}, tokenURL, apiKey)
}

// NewClientWithHTTP creates a token client with a pre-configured HTTP client.
func NewClientWithHTTP(httpClient *http.Client, tokenURL, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		tokenURL:   tokenURL,
		apiKey:     apiKey,
	}
}

// Token posts {"api_key": ...} to the token endpoint and returns the
// access_token of the response.
func (c *Client) Token(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{APIKey: c.apiKey})
	if err != nil {
		return "", ierrors.NewInternalError("failed to encode token request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", ierrors.NewAuthError(ierrors.CodeTokenRequestFailed, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", ierrors.NewAuthError(ierrors.CodeTokenRequestFailed, "token request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return "", ierrors.NewAuthError(ierrors.CodeTokenRequestFailed, "failed to read token response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", ierrors.NewAuthError(ierrors.CodeTokenRequestFailed,
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), nil).
			WithDetails(map[string]interface{}{"status": resp.StatusCode})
	}

	var tr tokenResponse
	if err := json.Unmarshal(payload, &tr); err != nil {
		return "", ierrors.NewAuthError(ierrors.CodeMissingToken, "token response is not valid JSON", err)
	}
	if tr.AccessToken == "" {
		return "", ierrors.NewAuthError(ierrors.CodeMissingToken, "token response has no access_token", nil)
	}
	return tr.AccessToken, nil
}

// CachingSource reuses a token from the wrapped source for a fixed TTL.
type CachingSource struct {
	src TokenSource
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCachingSource wraps src. A ttl of zero or less returns src itself, so
// every call fetches a fresh token.
func NewCachingSource(src TokenSource, ttl time.Duration) TokenSource {
	if ttl <= 0 {
		return src
	}
	return &CachingSource{src: src, ttl: ttl, now: time.Now}
}

// Token returns the cached token while it is fresh, otherwise fetches a new one.
func (c *CachingSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	token, err := c.src.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expires = c.now().Add(c.ttl)
	return token, nil
}
