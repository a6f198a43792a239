// Package server receives the OAuth redirect on a loopback address and
// applies the schema plan to self-hosted databases.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// CallbackPath is where the broker redirects after sign-in.
const CallbackPath = "/callback"

// Callback is what the broker sent back: an authorization code, or tokens
// when the broker completes the exchange itself.
type Callback struct {
	Code         string
	AccessToken  string
	RefreshToken string
	Error        string
}

// HasTokens reports whether the redirect carried tokens directly.
func (c Callback) HasTokens() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// ErrCallbackClosed is returned by Wait after Shutdown.
var ErrCallbackClosed = errors.New("callback server closed")

// Server is the OAuth redirect receiver
type Server struct {
	echo     *echo.Echo
	results  chan Callback
	mu       sync.Mutex
	accepted bool // a callback was already delivered
	listener net.Listener
	closed   chan struct{}
	once     sync.Once
}

// New creates a new server
func New() *Server {
	s := &Server{
		results: make(chan Callback, 1),
		closed:  make(chan struct{}),
	}
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(requestLogger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/health", s.handleHealth)
	e.GET(CallbackPath, s.handleCallback)

	s.echo = e
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.echo
}

// Listen binds addr and serves in the background. Use port 0 to let the
// system pick one; the bound address is returned.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.listener = ln
	s.echo.Listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Callback server stopped", logger.F("error", err))
		}
	}()
	logger.Info("Callback server listening", logger.F("addr", ln.Addr().String()))
	return ln.Addr(), nil
}

// RedirectURI returns the callback URL for the bound address.
func (s *Server) RedirectURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String() + CallbackPath
}

// Wait blocks until a callback arrives, ctx ends or the server shuts down.
func (s *Server) Wait(ctx context.Context) (Callback, error) {
	select {
	case cb := <-s.results:
		return cb, nil
	case <-ctx.Done():
		return Callback{}, ctx.Err()
	case <-s.closed:
		return Callback{}, ErrCallbackClosed
	}
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.closed) })
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCallback(c echo.Context) error {
	cb := Callback{
		Code:         c.QueryParam("code"),
		AccessToken:  c.QueryParam("access_token"),
		RefreshToken: c.QueryParam("refresh_token"),
		Error:        c.QueryParam("error"),
	}
	if desc := c.QueryParam("error_description"); desc != "" && cb.Error != "" {
		cb.Error += ": " + desc
	}

	if cb.Error == "" && cb.Code == "" && !cb.HasTokens() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing code"})
	}

	s.mu.Lock()
	repeated := s.accepted
	s.accepted = true
	s.mu.Unlock()
	if repeated {
		logger.Warn("Dropping repeated OAuth callback")
		return c.JSON(http.StatusConflict, map[string]string{"error": "sign-in already in progress"})
	}
	// the buffer holds the one accepted callback until Wait takes it
	s.results <- cb

	if cb.Error != "" {
		return c.HTML(http.StatusOK, page("Sign-in failed", cb.Error))
	}
	return c.HTML(http.StatusOK, page("Signed in", "You can close this window and return to Hasu."))
}

func page(title, body string) string {
	return "<!doctype html><html><head><title>Hasu</title></head><body><h1>" +
		htmlEscape(title) + "</h1><p>" + htmlEscape(body) + "</p></body></html>"
}
