package postgrest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRealtime accepts one socket, answers the join and then pushes the
// queued change payloads.
type fakeRealtime struct {
	t       *testing.T
	reject  bool
	hangup  bool // close the socket after the join
	changes []string

	mu     sync.Mutex
	joined joinPayload
	query  string
	events []string
}

func (f *fakeRealtime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.query = r.URL.RawQuery
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	ctx := r.Context()

	for {
		var msg message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		f.mu.Lock()
		f.events = append(f.events, msg.Event)
		f.mu.Unlock()

		if msg.Event != "phx_join" {
			continue
		}
		f.mu.Lock()
		_ = json.Unmarshal(msg.Payload, &f.joined)
		f.mu.Unlock()

		status := "ok"
		if f.reject {
			status = "error"
		}
		reply, _ := json.Marshal(replyPayload{Status: status, Response: json.RawMessage(`{}`)})
		_ = wsjson.Write(ctx, conn, message{Topic: msg.Topic, Event: "phx_reply", Payload: reply, Ref: msg.Ref})

		for _, c := range f.changes {
			_ = wsjson.Write(ctx, conn, message{Topic: msg.Topic, Event: "postgres_changes", Payload: json.RawMessage(c)})
		}
		if f.hangup {
			_ = conn.Close(websocket.StatusGoingAway, "server restart")
			return
		}
	}
}

func (f *fakeRealtime) sawEvent(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == name {
			return true
		}
	}
	return false
}

func TestRealtimeSubscribeDeliversChanges(t *testing.T) {
	fake := &fakeRealtime{t: t, changes: []string{
		`{"data":{"type":"INSERT","schema":"s","table":"todos","record":{"id":"t1"},"old_record":null}}`,
		`{"data":{"type":"DELETE","schema":"s","table":"todos","record":null,"old_record":{"id":"t1"}}}`,
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(Options{URL: srv.URL, Schema: "s", APIKey: "anon", AccessToken: "jwt"})
	rt := c.Realtime()
	rt.Heartbeat = 20 * time.Millisecond

	got := make(chan ChangeEvent, 4)
	ch, err := rt.Subscribe(context.Background(), Subscription{Table: "todos", Filter: "user_id=eq.u1"}, func(ev ChangeEvent) {
		got <- ev
	})
	require.NoError(t, err)

	first := <-got
	assert.Equal(t, EventInsert, first.Type)
	assert.JSONEq(t, `{"id":"t1"}`, string(first.New))

	second := <-got
	assert.Equal(t, EventDelete, second.Type)
	assert.JSONEq(t, `{"id":"t1"}`, string(second.Old))

	fake.mu.Lock()
	pc := fake.joined.Config.PostgresChanges
	token := fake.joined.AccessToken
	query := fake.query
	fake.mu.Unlock()
	require.Len(t, pc, 1)
	assert.Equal(t, "*", pc[0].Event)
	assert.Equal(t, "s", pc[0].Schema)
	assert.Equal(t, "user_id=eq.u1", pc[0].Filter)
	assert.Equal(t, "jwt", token)
	assert.Contains(t, query, "apikey=anon")
	assert.Contains(t, query, "vsn=1.0.0")

	require.Eventually(t, func() bool { return fake.sawEvent("heartbeat") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ch.Close())
	select {
	case <-ch.Done():
	default:
		t.Fatal("channel still running after Close")
	}
	assert.NoError(t, ch.Err())
	// second close is a no-op
	assert.NoError(t, ch.Close())
}

func TestRealtimeJoinRejected(t *testing.T) {
	srv := httptest.NewServer(&fakeRealtime{t: t, reject: true})
	defer srv.Close()

	c := New(Options{URL: srv.URL, Schema: "s"})
	_, err := c.Realtime().Subscribe(context.Background(), Subscription{Table: "todos"}, func(ChangeEvent) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join rejected")
}

func TestRealtimeDroppedSocketEndsChannel(t *testing.T) {
	srv := httptest.NewServer(&fakeRealtime{t: t, hangup: true})
	defer srv.Close()

	c := New(Options{URL: srv.URL, Schema: "s"})
	ch, err := c.Realtime().Subscribe(context.Background(), Subscription{Table: "todos"}, func(ChangeEvent) {})
	require.NoError(t, err)

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel kept running after the socket closed")
	}
	require.Error(t, ch.Err())
	assert.Contains(t, ch.Err().Error(), "server restart")
	_ = ch.Close()
}

func TestSocketURL(t *testing.T) {
	c := New(Options{URL: "https://abcd.supabase.co/", APIKey: "k"})
	u, err := c.Realtime().SocketURL()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "wss://abcd.supabase.co/realtime/v1/websocket?"))
	assert.Contains(t, u, "apikey=k")
}
