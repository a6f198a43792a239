package supakey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aksanoble/hasu/internal/logger"
)

// ApplicationName is sent with every migration deployment.
const ApplicationName = "hasu"

// transientCode marks a schema cache that has not caught up with a deploy.
const transientCode = "PGRST002"

// HTTPError is a non-2xx answer from a broker function.
type HTTPError struct {
	Function string
	Status   int
	Message  string
	Body     string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// IsTransient reports whether err is the schema-cache-not-ready signature.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) && strings.Contains(he.Body, transientCode) {
		return true
	}
	return strings.Contains(err.Error(), transientCode)
}

// Client calls the broker's edge functions.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

// NewClient returns a client for the broker at baseURL.
func NewClient(baseURL, anonKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the broker URL.
func (c *Client) BaseURL() string { return c.baseURL }

// post sends body to the function with bearer and returns the status and raw answer.
func (c *Client) post(ctx context.Context, function, bearer string, body interface{}) (int, []byte, error) {
	if c.baseURL == "" {
		return 0, nil, errors.New("supakey url is not configured (set HASU_SUPAKEY_URL)")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/v1/"+function, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)

	logger.Debug("Calling broker", logger.F("function", function), logger.F("token", logger.Redact(bearer)))
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", function, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read %s response: %w", function, err)
	}
	logger.Debug("Broker answered", logger.F("function", function), logger.F("status", resp.StatusCode))
	return resp.StatusCode, raw, nil
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

// errorBody is the union of error shapes the functions return.
type errorBody struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

func (b errorBody) details() string {
	if len(b.Details) == 0 || string(b.Details) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(b.Details, &s) == nil {
		return s
	}
	return string(b.Details)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ExchangeRequest is the authorization code grant.
type ExchangeRequest struct {
	Code        string
	RedirectURI string
	ClientID    string
	Verifier    string
}

// TokenResponse is the broker session returned for a code.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Email        string `json:"email"`
}

// ExchangeCode trades an authorization code for a broker session.
func (c *Client) ExchangeCode(ctx context.Context, in ExchangeRequest) (*TokenResponse, error) {
	body := map[string]string{
		"grant_type":    "authorization_code",
		"code":          in.Code,
		"redirect_uri":  in.RedirectURI,
		"client_id":     in.ClientID,
		"code_verifier": in.Verifier,
	}
	status, raw, err := c.post(ctx, "oauth-token", c.anonKey, body)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := firstOf(eb.Message, eb.Error, fmt.Sprintf("OAuth token exchange failed: %d", status))
		if d := eb.details(); d != "" {
			msg += "\nDetails: " + d
		}
		return nil, &HTTPError{Function: "oauth-token", Status: status, Message: msg, Body: string(raw)}
	}

	var out TokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("malformed token response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, errors.New("malformed token response: no access token")
	}
	return &out, nil
}

// Migration is one named deploy script.
type Migration struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
}

// DeployRequest describes a migration deployment.
type DeployRequest struct {
	AppIdentifier     string
	MigrationsBaseURL string
	Plan              *Plan
	ApplicationID     string
	UserSupabaseURL   string
}

// Deployment is what deploy-migrations reports back.
type Deployment struct {
	ApplicationID string
	DatabaseURL   string
	AppIdentifier string
}

// DeployMigrations applies the plan to the user's database.
func (c *Client) DeployMigrations(ctx context.Context, accessToken string, in DeployRequest) (*Deployment, error) {
	if in.Plan == nil || len(in.Plan.Migrations) == 0 {
		return nil, errors.New("no migrations found in sqitch plan")
	}
	type migrationsDir struct {
		Plan   string      `json:"plan"`
		Deploy []Migration `json:"deploy"`
	}
	body := struct {
		ApplicationName   string        `json:"applicationName"`
		AppIdentifier     string        `json:"appIdentifier"`
		MigrationsBaseURL string        `json:"migrationsBaseUrl"`
		Migrations        []Migration   `json:"migrations"`
		MigrationsDir     migrationsDir `json:"migrationsDir"`
		ApplicationID     string        `json:"applicationId,omitempty"`
		UserSupabaseURL   string        `json:"userSupabaseUrl,omitempty"`
	}{
		ApplicationName:   ApplicationName,
		AppIdentifier:     in.AppIdentifier,
		MigrationsBaseURL: in.MigrationsBaseURL,
		Migrations:        in.Plan.Migrations,
		MigrationsDir:     migrationsDir{Plan: in.Plan.Text, Deploy: in.Plan.Migrations},
		ApplicationID:     in.ApplicationID,
		UserSupabaseURL:   in.UserSupabaseURL,
	}

	logger.Info("Deploying migrations", logger.F("app", in.AppIdentifier), logger.F("count", len(in.Plan.Migrations)))
	status, raw, err := c.post(ctx, "deploy-migrations", accessToken, body)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		var eb errorBody
		msg := fmt.Sprintf("Migration deployment failed: %d - %s", status, strings.TrimSpace(string(raw)))
		if json.Unmarshal(raw, &eb) == nil {
			msg = firstOf(eb.Error, "Migration deployment failed")
			if d := eb.details(); d != "" {
				msg += ": " + d
			}
		}
		return nil, &HTTPError{Function: "deploy-migrations", Status: status, Message: msg, Body: string(raw)}
	}

	var res struct {
		ApplicationID      string `json:"applicationId"`
		ApplicationIDSnake string `json:"application_id"`
		DatabaseURL        string `json:"databaseUrl"`
		DatabaseURLSnake   string `json:"database_url"`
		AppIdentifier      string `json:"appIdentifier"`
		AppIdentifierSnake string `json:"app_identifier"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("malformed deployment response: %w", err)
	}
	return &Deployment{
		ApplicationID: firstOf(res.ApplicationID, res.ApplicationIDSnake),
		DatabaseURL:   firstOf(res.DatabaseURL, res.DatabaseURLSnake, c.baseURL),
		AppIdentifier: firstOf(res.AppIdentifier, res.AppIdentifierSnake, in.AppIdentifier),
	}, nil
}

// AppTokens grant access to the user's database for this application.
type AppTokens struct {
	JWT           string `json:"jwt"`
	RefreshToken  string `json:"refreshToken"`
	Username      string `json:"username"`
	UserID        string `json:"userId"`
	ApplicationID string `json:"applicationId"`
	DatabaseURL   string `json:"databaseUrl"`
	AnonKey       string `json:"anonKey"`
	Email         string `json:"email"`
}

// IssueAppTokens asks for app tokens by application id, identifier or both.
func (c *Client) IssueAppTokens(ctx context.Context, accessToken, applicationID, appIdentifier string) (*AppTokens, error) {
	body := map[string]string{}
	if applicationID != "" {
		body["applicationId"] = applicationID
	}
	if appIdentifier != "" {
		body["appIdentifier"] = appIdentifier
	}
	if len(body) == 0 {
		return nil, errors.New("applicationId or appIdentifier required")
	}

	status, raw, err := c.post(ctx, "issue-app-tokens", accessToken, body)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := firstOf(eb.Message, eb.Error, fmt.Sprintf("Failed to get app tokens: %d", status))
		return nil, &HTTPError{Function: "issue-app-tokens", Status: status, Message: msg, Body: string(raw)}
	}

	var out AppTokens
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("malformed app token response: %w", err)
	}
	if out.JWT == "" || out.DatabaseURL == "" {
		return nil, errors.New("malformed app token response: missing jwt or databaseUrl")
	}
	return &out, nil
}
