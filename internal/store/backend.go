// Package store is the typed data access layer over the user's database.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/postgrest"
	"github.com/aksanoble/hasu/internal/session"
)

// Table names under the application schema.
const (
	TableProjects = "projects"
	TableTodos    = "todos"
)

var (
	// ErrUninitialized is returned by every data call made before Init or after Close.
	ErrUninitialized = errors.New("user data client not initialized, please authenticate first")
	// ErrInboxProtected is returned when deleting the Inbox project.
	ErrInboxProtected = errors.New("the Inbox project cannot be deleted")
)

// Backend owns the remote data client for one signed-in session.
type Backend struct {
	mu      sync.RWMutex
	client  *postgrest.Client
	session *model.Session
	timeout time.Duration

	// TokenSink persists rotated tokens. Optional.
	TokenSink func(accessToken, refreshToken string) error
}

// NewBackend returns an uninitialized backend. timeout bounds each remote call.
func NewBackend(timeout time.Duration) *Backend {
	return &Backend{timeout: timeout}
}

// Init builds the client for sess against schema and verifies the token.
func (b *Backend) Init(ctx context.Context, sess *model.Session, schema string) error {
	if sess == nil {
		return session.ErrNoSession
	}
	apiKey := session.EffectiveAPIKey(sess.Database.SupabaseURL, sess.Database.AnonKey, sess.AccessToken)
	if apiKey == sess.AccessToken && sess.Database.AnonKey != "" {
		logger.Warn("Ignoring public key from another project",
			logger.F("expected_ref", session.ProjectRef(sess.Database.SupabaseURL)))
	}

	client := postgrest.New(postgrest.Options{
		URL:          sess.Database.SupabaseURL,
		Schema:       schema,
		APIKey:       apiKey,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		Timeout:      b.timeout,
	})
	client.OnTokenRefresh(func(access, refresh string) {
		if b.TokenSink == nil {
			return
		}
		if err := b.TokenSink(access, refresh); err != nil {
			logger.Error("Failed to persist refreshed tokens", logger.F("error", err))
		}
	})

	if _, err := client.GetUser(ctx); err != nil {
		// an expired access token is recoverable with the refresh token
		if rerr := client.RefreshSession(ctx); rerr != nil {
			return fmt.Errorf("failed to initialize user data client: %w", err)
		}
	}

	return b.Attach(client, sess)
}

// Attach installs an already configured client. Used by Init and tests.
func (b *Backend) Attach(client *postgrest.Client, sess *model.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = client
	b.session = sess

	logger.Info("User data client initialized",
		logger.F("url", client.URL()),
		logger.F("schema", client.Schema()))
	return nil
}

// Close drops the client. Later calls fail with ErrUninitialized.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = nil
	b.session = nil
}

// Ready reports whether Init succeeded and Close has not been called.
func (b *Backend) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client != nil
}

// Client returns the live client or ErrUninitialized.
func (b *Backend) Client() (*postgrest.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, ErrUninitialized
	}
	return b.client, nil
}

// UserID returns the signed-in user's id or ErrUninitialized.
func (b *Backend) UserID() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return "", ErrUninitialized
	}
	return b.session.UserID, nil
}

// Projects returns the project service bound to b.
func (b *Backend) Projects() *Projects {
	return &Projects{b: b}
}

// Todos returns the todo service bound to b.
func (b *Backend) Todos() *Todos {
	return &Todos{b: b}
}
