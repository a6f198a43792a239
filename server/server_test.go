package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, New(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCallbackDeliversCode(t *testing.T) {
	s := New()
	rec := get(t, s, "/callback?code=abc123&state=x")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Signed in")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cb, err := s.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", cb.Code)
	assert.False(t, cb.HasTokens())
}

func TestCallbackDeliversTokens(t *testing.T) {
	s := New()
	get(t, s, "/callback?access_token=at&refresh_token=rt")

	cb, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, cb.HasTokens())
	assert.Equal(t, "at", cb.AccessToken)
	assert.Equal(t, "rt", cb.RefreshToken)
}

func TestCallbackError(t *testing.T) {
	s := New()
	rec := get(t, s, "/callback?error=access_denied&error_description=%3Cb%3Enope%3C%2Fb%3E")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "&lt;b&gt;nope")

	cb, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access_denied: <b>nope</b>", cb.Error)
}

func TestCallbackMissingCode(t *testing.T) {
	rec := get(t, New(), "/callback")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackRepeatedIsRejected(t *testing.T) {
	s := New()
	assert.Equal(t, http.StatusOK, get(t, s, "/callback?code=one").Code)
	assert.Equal(t, http.StatusConflict, get(t, s, "/callback?code=two").Code)

	cb, _ := s.Wait(context.Background())
	assert.Equal(t, "one", cb.Code)

	// still refused once Wait has taken the first one
	assert.Equal(t, http.StatusConflict, get(t, s, "/callback?code=three").Code)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMalformedCallbackDoesNotConsumeTheSlot(t *testing.T) {
	s := New()
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/callback").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/callback?code=ok").Code)
}

func TestWaitEndsOnShutdownAndContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.Shutdown(context.Background()))
	_, err = s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCallbackClosed)
}

func TestListenServesLoopback(t *testing.T) {
	s := New()
	addr, err := s.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	assert.Equal(t, "http://"+addr.String()+"/callback", s.RedirectURI())

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(s.RedirectURI() + "?code=live")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cb, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", cb.Code)
}
