// Package postgrest is a small client for the hosted Postgres REST and
// realtime endpoints of the user's database.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aksanoble/hasu/internal/logger"
)

// DefaultTimeout bounds every remote call unless Options.Timeout is set.
const DefaultTimeout = 15 * time.Second

// Options configures a Client.
type Options struct {
	URL          string // database base URL, e.g. https://ref.supabase.co
	Schema       string
	APIKey       string
	AccessToken  string
	RefreshToken string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// TokenListener is told about rotated tokens.
type TokenListener func(accessToken, refreshToken string)

// Client talks to {URL}/rest/v1 and {URL}/auth/v1.
type Client struct {
	baseURL    string
	schema     string
	apiKey     string
	httpClient *http.Client

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	onTokens     TokenListener

	refreshMu sync.Mutex // one refresh at a time
}

// New creates a client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.URL, "/"),
		schema:       opts.Schema,
		apiKey:       opts.APIKey,
		httpClient:   hc,
		accessToken:  opts.AccessToken,
		refreshToken: opts.RefreshToken,
	}
}

// URL returns the database base URL.
func (c *Client) URL() string { return c.baseURL }

// Schema returns the schema queries run against.
func (c *Client) Schema() string { return c.schema }

// APIKey returns the key sent in the apikey header.
func (c *Client) APIKey() string { return c.apiKey }

// AccessToken returns the current bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// OnTokenRefresh registers fn to be called after a token rotation.
func (c *Client) OnTokenRefresh(fn TokenListener) {
	c.mu.Lock()
	c.onTokens = fn
	c.mu.Unlock()
}

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return newQuery(c, table)
}

type request struct {
	method  string
	path    string // relative to baseURL
	query   string
	body    interface{}
	headers map[string]string
	profile bool // send schema profile headers
	noRetry bool // do not refresh and retry on 401
}

func (c *Client) newHTTPRequest(ctx context.Context, r request) (*http.Request, error) {
	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL + r.path
	if r.query != "" {
		target += "?" + r.query
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.AccessToken())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.profile && c.schema != "" {
		req.Header.Set("Accept-Profile", c.schema)
		req.Header.Set("Content-Profile", c.schema)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// do executes r and decodes a 2xx JSON body into out when out is non-nil.
// An expired access token is refreshed once and the request sent again.
func (c *Client) do(ctx context.Context, r request, out interface{}) (*http.Response, error) {
	sent := c.AccessToken()
	resp, err := c.send(ctx, r, out)
	if r.noRetry || resp == nil || resp.StatusCode != http.StatusUnauthorized || !c.canRefresh() {
		return resp, err
	}

	logger.Debug("Access token rejected, refreshing", logger.F("path", r.path))
	if rerr := c.refreshAfter(ctx, sent); rerr != nil {
		logger.Warn("Token refresh after 401 failed", logger.F("error", rerr))
		return resp, err
	}
	r.noRetry = true
	return c.send(ctx, r, out)
}

func (c *Client) canRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshToken != ""
}

// refreshAfter refreshes the session unless a concurrent call already
// replaced the rejected token.
func (c *Client) refreshAfter(ctx context.Context, rejected string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.AccessToken() != rejected {
		return nil
	}
	return c.RefreshSession(ctx)
}

func (c *Client) send(ctx context.Context, r request, out interface{}) (*http.Response, error) {
	req, err := c.newHTTPRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	logger.Debug("PostgREST call",
		logger.F("method", r.method),
		logger.F("path", r.path),
		logger.F("status", resp.StatusCode),
		logger.F("duration", time.Since(start).String()))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, parseError(resp.StatusCode, data)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}

// RPC calls a stored function.
func (c *Client) RPC(ctx context.Context, fn string, args interface{}, out interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	_, err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/rest/v1/rpc/" + fn,
		body:    args,
		profile: true,
	}, out)
	return err
}

// User is the authenticated principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// GetUser verifies the access token and returns its user.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	var u User
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user"}, &u); err != nil {
		return nil, fmt.Errorf("failed to verify session: %w", err)
	}
	return &u, nil
}

// RefreshSession exchanges the refresh token for a new token pair and
// notifies the token listener.
func (c *Client) RefreshSession(ctx context.Context) error {
	c.mu.RLock()
	refresh := c.refreshToken
	c.mu.RUnlock()
	if refresh == "" {
		return fmt.Errorf("no refresh token")
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	_, err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/auth/v1/token",
		query:   "grant_type=refresh_token",
		body:    map[string]string{"refresh_token": refresh},
		noRetry: true,
	}, &result)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	if result.AccessToken == "" {
		return fmt.Errorf("token refresh failed: empty access token")
	}

	c.mu.Lock()
	c.accessToken = result.AccessToken
	if result.RefreshToken != "" {
		c.refreshToken = result.RefreshToken
	}
	listener := c.onTokens
	access, rotated := c.accessToken, c.refreshToken
	c.mu.Unlock()

	logger.Info("Access token refreshed", logger.F("token", logger.Redact(access)))
	if listener != nil {
		listener(access, rotated)
	}
	return nil
}
