package supakey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
)

// State is a step of the sign-in flow.
type State int

const (
	StateIdle State = iota
	StateAwaitingRedirect
	StateExchangingCode
	StateDeployingMigrations
	StateIssuingAppTokens
	StateRetrying
	StatePersisted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateExchangingCode:
		return "exchanging_code"
	case StateDeployingMigrations:
		return "deploying_migrations"
	case StateIssuingAppTokens:
		return "issuing_app_tokens"
	case StateRetrying:
		return "retrying"
	case StatePersisted:
		return "persisted"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrDuplicateExchange is returned when a code or token was already handled.
var ErrDuplicateExchange = errors.New("authorization already handled for this code")

// SessionStore persists what the flow produces. *session.Store implements it.
type SessionStore interface {
	Save(tokens model.Tokens, db model.DatabaseConfig) error
	SetVerifier(v string) error
	Verifier() (string, bool)
	ClearVerifier() error
}

// Broker is the set of broker calls the flow makes. *Client implements it.
type Broker interface {
	ExchangeCode(ctx context.Context, in ExchangeRequest) (*TokenResponse, error)
	DeployMigrations(ctx context.Context, accessToken string, in DeployRequest) (*Deployment, error)
	IssueAppTokens(ctx context.Context, accessToken, applicationID, appIdentifier string) (*AppTokens, error)
}

// FlowConfig holds the fixed inputs of a sign-in.
type FlowConfig struct {
	FrontendURL       string
	ClientID          string
	RedirectURI       string
	AppIdentifier     string
	MigrationsBaseURL string
	RetryDelay        time.Duration
	MaxRetries        int
}

// Flow drives one sign-in from authorize redirect to a stored session.
type Flow struct {
	broker Broker
	store  SessionStore
	plan   *Plan
	cfg    FlowConfig

	mu        sync.Mutex
	state     State
	message   string
	handled   map[string]bool
	observers []func(State, string)

	// OnReload runs after a session is stored so the app can start over
	// from it.
	OnReload func()

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFlow returns an idle flow.
func NewFlow(broker Broker, store SessionStore, plan *Plan, cfg FlowConfig) *Flow {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Flow{
		broker:  broker,
		store:   store,
		plan:    plan,
		cfg:     cfg,
		handled: map[string]bool{},
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Message returns the user-visible status or error of the last transition.
func (f *Flow) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Observe registers fn for every transition.
func (f *Flow) Observe(fn func(State, string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

func (f *Flow) set(s State, msg string) {
	f.mu.Lock()
	f.state = s
	f.message = msg
	observers := append([]func(State, string){}, f.observers...)
	f.mu.Unlock()

	logger.Debug("Sign-in state", logger.F("state", s), logger.F("message", msg))
	for _, fn := range observers {
		fn(s, msg)
	}
}

func (f *Flow) fail(err error) error {
	f.set(StateFailed, err.Error())
	logger.Error("Sign-in failed", logger.F("error", err))
	return err
}

// claim marks key handled and reports whether it was new.
func (f *Flow) claim(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handled[key] {
		return false
	}
	f.handled[key] = true
	return true
}

// Begin creates and stores a PKCE verifier and returns the authorize URL.
func (f *Flow) Begin() (string, error) {
	pkce, err := NewPKCE()
	if err != nil {
		return "", f.fail(fmt.Errorf("failed to start authentication: %w", err))
	}
	if err := f.store.SetVerifier(pkce.Verifier); err != nil {
		return "", f.fail(fmt.Errorf("failed to start authentication: %w", err))
	}
	u := AuthorizeURL(f.cfg.FrontendURL, f.cfg.ClientID, f.cfg.RedirectURI, pkce.Challenge, f.cfg.AppIdentifier)
	f.set(StateAwaitingRedirect, "Waiting for sign-in in the browser...")
	return u, nil
}

// run carries the retry budget of one Complete call.
type run struct {
	f       *Flow
	ctx     context.Context
	retries int
}

// step runs fn in state s and repeats it after RetryDelay while it fails
// with the transient signature and retries remain.
func (r *run) step(s State, msg string, fn func() error) error {
	for {
		r.f.set(s, msg)
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if r.retries >= r.f.cfg.MaxRetries {
			return fmt.Errorf("gave up after %d retries: %w", r.retries, err)
		}
		r.retries++
		logger.Warn("Schema cache not ready, retrying", logger.F("state", s), logger.F("attempt", r.retries))
		r.f.set(StateRetrying, "Database is refreshing its schema cache, please wait...")
		if err := r.f.sleep(r.ctx, r.f.cfg.RetryDelay); err != nil {
			return err
		}
	}
}

// Complete exchanges code and finishes the sign-in. Each code is handled
// at most once; repeats return ErrDuplicateExchange without any call.
func (f *Flow) Complete(ctx context.Context, code string) error {
	if code == "" {
		return f.fail(errors.New("missing authorization code"))
	}
	if !f.claim("code:" + code) {
		logger.Info("Authorization code already handled, skipping")
		return ErrDuplicateExchange
	}
	verifier, ok := f.store.Verifier()
	if !ok {
		return f.fail(errors.New("PKCE verifier not found. Please try logging in again."))
	}

	r := &run{f: f, ctx: ctx}
	var session *TokenResponse
	err := r.step(StateExchangingCode, "Exchanging authorization code for tokens...", func() error {
		var err error
		session, err = f.broker.ExchangeCode(ctx, ExchangeRequest{
			Code:        code,
			RedirectURI: f.cfg.RedirectURI,
			ClientID:    f.cfg.ClientID,
			Verifier:    verifier,
		})
		return err
	})
	if err != nil {
		return f.fail(err)
	}
	return f.finish(r, session.AccessToken, session.Email)
}

// CompleteWithTokens finishes a sign-in for a broker session handed over
// directly instead of through a code.
func (f *Flow) CompleteWithTokens(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return f.fail(errors.New("missing access or refresh token"))
	}
	key := accessToken
	if len(key) > 16 {
		key = key[:16]
	}
	if !f.claim("token:" + key) {
		logger.Info("Broker session already handled, skipping")
		return ErrDuplicateExchange
	}
	return f.finish(&run{f: f, ctx: ctx}, accessToken, "")
}

func (f *Flow) finish(r *run, accessToken, email string) error {
	ctx := r.ctx

	var deployment *Deployment
	err := r.step(StateDeployingMigrations, "Deploying migrations...", func() error {
		var err error
		deployment, err = f.broker.DeployMigrations(ctx, accessToken, DeployRequest{
			AppIdentifier:     f.cfg.AppIdentifier,
			MigrationsBaseURL: f.cfg.MigrationsBaseURL,
			Plan:              f.plan,
		})
		return err
	})
	if err != nil {
		return f.fail(fmt.Errorf("Migration deployment failed: %w", err))
	}

	var tokens *AppTokens
	err = r.step(StateIssuingAppTokens, "Retrieving application tokens...", func() error {
		var err error
		tokens, err = f.broker.IssueAppTokens(ctx, accessToken, deployment.ApplicationID, f.cfg.AppIdentifier)
		return err
	})
	if err != nil {
		return f.fail(fmt.Errorf("Failed to retrieve application tokens: %w", err))
	}

	err = f.store.Save(model.Tokens{
		AccessToken:   tokens.JWT,
		RefreshToken:  tokens.RefreshToken,
		UserID:        tokens.UserID,
		Email:         firstOf(tokens.Email, email),
		Username:      tokens.Username,
		ApplicationID: firstOf(tokens.ApplicationID, deployment.ApplicationID),
	}, model.DatabaseConfig{
		SupabaseURL: tokens.DatabaseURL,
		AnonKey:     tokens.AnonKey,
	})
	if err != nil {
		return f.fail(fmt.Errorf("failed to store session: %w", err))
	}
	f.set(StatePersisted, "Session stored")

	if err := f.store.ClearVerifier(); err != nil {
		logger.Warn("Failed to clear PKCE verifier", logger.F("error", err))
	}
	logger.Info("Signed in", logger.F("user", tokens.UserID), logger.F("database", tokens.DatabaseURL))
	f.set(StateDone, "Signed in via Supakey successfully!")

	if f.OnReload != nil {
		f.OnReload()
	}
	return nil
}
