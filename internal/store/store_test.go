package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/postgrest"
)

type recorded struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	Header http.Header
}

// fakeREST records every call and answers with the route's handler.
type fakeREST struct {
	mu     sync.Mutex
	calls  []recorded
	routes map[string]func(w http.ResponseWriter, r recorded)
}

func (f *fakeREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body, Header: r.Header.Clone()}
	f.mu.Lock()
	f.calls = append(f.calls, rec)
	h := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()
	if h == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"no route"}`)
		return
	}
	h(w, rec)
}

func (f *fakeREST) on(route string, h func(w http.ResponseWriter, r recorded)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routes == nil {
		f.routes = map[string]func(http.ResponseWriter, recorded){}
	}
	f.routes[route] = h
}

func (f *fakeREST) callsTo(route string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, c := range f.calls {
		if c.Method+" "+c.Path == route {
			out = append(out, c)
		}
	}
	return out
}

func newBackend(t *testing.T, fake *fakeREST) *Backend {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b := NewBackend(time.Second)
	client := postgrest.New(postgrest.Options{URL: srv.URL, Schema: "app", APIKey: "k", AccessToken: "jwt"})
	require.NoError(t, b.Attach(client, &model.Session{Tokens: model.Tokens{UserID: "u1", AccessToken: "jwt"}}))
	return b
}

func writeJSON(w http.ResponseWriter, v string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, v)
}

func TestUninitializedBackend(t *testing.T) {
	b := NewBackend(time.Second)
	assert.False(t, b.Ready())

	_, err := b.Todos().List(context.Background())
	require.ErrorIs(t, err, ErrUninitialized)
	_, err = b.Projects().List(context.Background())
	require.ErrorIs(t, err, ErrUninitialized)
	_, err = b.UserID()
	require.ErrorIs(t, err, ErrUninitialized)
}

func TestCloseMakesBackendUninitialized(t *testing.T) {
	b := newBackend(t, &fakeREST{})
	require.True(t, b.Ready())
	b.Close()
	require.False(t, b.Ready())
	require.ErrorIs(t, b.Todos().Delete(context.Background(), "x"), ErrUninitialized)
}

func TestInitVerifiesTokenAndPicksAPIKey(t *testing.T) {
	fake := &fakeREST{}
	fake.on("GET /auth/v1/user", func(w http.ResponseWriter, r recorded) {
		writeJSON(w, `{"id":"u1"}`)
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	b := NewBackend(time.Second)
	sess := &model.Session{
		Tokens:   model.Tokens{AccessToken: "jwt", RefreshToken: "r", UserID: "u1"},
		Database: model.DatabaseConfig{SupabaseURL: srv.URL, AnonKey: "not-a-jwt"},
	}
	require.NoError(t, b.Init(context.Background(), sess, "app"))
	require.True(t, b.Ready())

	calls := fake.callsTo("GET /auth/v1/user")
	require.Len(t, calls, 1)
	// a key that is not for this project is replaced by the access token
	assert.Equal(t, "jwt", calls[0].Header.Get("apikey"))
}

func TestInitRefreshesExpiredToken(t *testing.T) {
	fake := &fakeREST{}
	fake.on("GET /auth/v1/user", func(w http.ResponseWriter, r recorded) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, `{"msg":"JWT expired"}`)
	})
	fake.on("POST /auth/v1/token", func(w http.ResponseWriter, r recorded) {
		writeJSON(w, `{"access_token":"fresh","refresh_token":"r2"}`)
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var persisted []string
	b := NewBackend(time.Second)
	b.TokenSink = func(a, r string) error {
		persisted = append(persisted, a, r)
		return nil
	}
	sess := &model.Session{
		Tokens:   model.Tokens{AccessToken: "stale", RefreshToken: "r", UserID: "u1"},
		Database: model.DatabaseConfig{SupabaseURL: srv.URL},
	}
	require.NoError(t, b.Init(context.Background(), sess, "app"))
	assert.Equal(t, []string{"fresh", "r2"}, persisted)
}

func TestProjectsListOrdering(t *testing.T) {
	fake := &fakeREST{}
	fake.on("GET /rest/v1/projects", func(w http.ResponseWriter, r recorded) {
		writeJSON(w, `[{"id":"p1","name":"Inbox","color":"blue","is_inbox":true}]`)
	})
	b := newBackend(t, fake)

	projects, err := b.Projects().List(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)

	call := fake.callsTo("GET /rest/v1/projects")[0]
	assert.Equal(t, "is_inbox.desc,is_favorite.desc,name.asc", call.Query.Get("order"))
	assert.Equal(t, "app", call.Header.Get("Accept-Profile"))
}

func TestListWithCountsCountsOnlyActive(t *testing.T) {
	fake := &fakeREST{}
	fake.on("GET /rest/v1/projects", func(w http.ResponseWriter, r recorded) {
		writeJSON(w, `[
			{"id":"p1","name":"Inbox","color":"blue","is_inbox":true,"todos":[{"id":"a","completed":false},{"id":"b","completed":true}]},
			{"id":"p2","name":"Work","color":"red","todos":[]}
		]`)
	})
	b := newBackend(t, fake)

	projects, err := b.Projects().ListWithCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, 1, projects[0].TodoCount)
	assert.Equal(t, 0, projects[1].TodoCount)
	assert.Equal(t, "*,todos(id,completed)", fake.callsTo("GET /rest/v1/projects")[0].Query.Get("select"))
}

func TestDeleteInboxIsRefusedLocally(t *testing.T) {
	fake := &fakeREST{}
	b := newBackend(t, fake)

	err := b.Projects().Delete(context.Background(), model.Project{ID: "p1", IsInbox: true})
	require.ErrorIs(t, err, ErrInboxProtected)
	assert.Empty(t, fake.callsTo("DELETE /rest/v1/projects"))
}

func TestDeleteProjectGuardsInboxRemotely(t *testing.T) {
	fake := &fakeREST{}
	fake.on("DELETE /rest/v1/projects", func(w http.ResponseWriter, r recorded) {
		w.WriteHeader(http.StatusNoContent)
	})
	b := newBackend(t, fake)

	require.NoError(t, b.Projects().Delete(context.Background(), model.Project{ID: "p2"}))
	call := fake.callsTo("DELETE /rest/v1/projects")[0]
	assert.Equal(t, "eq.p2", call.Query.Get("id"))
	assert.Equal(t, "eq.false", call.Query.Get("is_inbox"))
}

func TestCreateProjectValidates(t *testing.T) {
	b := newBackend(t, &fakeREST{})
	_, err := b.Projects().Create(context.Background(), model.Project{Name: " "})
	require.Error(t, err)
	_, err = b.Projects().Create(context.Background(), model.Project{Name: "Work", Color: "teal"})
	require.Error(t, err)
}

func TestCreateTodoGeneratesIDAndOwner(t *testing.T) {
	fake := &fakeREST{}
	fake.on("POST /rest/v1/todos", func(w http.ResponseWriter, r recorded) {
		var rows []map[string]interface{}
		require.NoError(t, json.Unmarshal(r.Body, &rows))
		require.Len(t, rows, 1)
		row := rows[0]
		row["completed"] = false
		row["created_at"] = "2024-03-05T10:00:00Z"
		out, _ := json.Marshal([]interface{}{row})
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, string(out))
	})
	b := newBackend(t, fake)

	todo, err := b.Todos().Create(context.Background(), NewTodo{Text: "  Buy milk ", DueDate: model.StringPtr("2024-03-06")})
	require.NoError(t, err)
	_, err = uuid.Parse(todo.ID)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", todo.Text)
	assert.Equal(t, "u1", todo.UserID)
	require.NotNil(t, todo.DueDate)
	assert.Equal(t, "2024-03-06", *todo.DueDate)
	assert.Nil(t, todo.ProjectID)

	_, err = b.Todos().Create(context.Background(), NewTodo{Text: "   "})
	require.Error(t, err)
}

func TestTodoPatchMarshalsOnlyChangedFields(t *testing.T) {
	data, err := json.Marshal(SetCompleted(true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"completed":true}`, string(data))

	data, err = json.Marshal(TodoPatch{ClearDueDate: true, ProjectID: model.StringPtr("p1")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"due_date":null,"project_id":"p1"}`, string(data))

	assert.True(t, TodoPatch{}.Empty())
}

func TestSearchUsesILikeAndLimit(t *testing.T) {
	fake := &fakeREST{}
	fake.on("GET /rest/v1/todos", func(w http.ResponseWriter, r recorded) {
		writeJSON(w, `[]`)
	})
	b := newBackend(t, fake)

	_, err := b.Todos().Search(context.Background(), "u1", "milk")
	require.NoError(t, err)
	call := fake.callsTo("GET /rest/v1/todos")[0]
	assert.Equal(t, "ilike.*milk*", call.Query.Get("text"))
	assert.Equal(t, "eq.u1", call.Query.Get("user_id"))
	assert.Equal(t, "100", call.Query.Get("limit"))
	assert.Equal(t, "created_at.desc", call.Query.Get("order"))

	res, err := b.Todos().Search(context.Background(), "u1", "  ")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestCountTodayAndUpcomingUseLocalTomorrow(t *testing.T) {
	fake := &fakeREST{}
	fake.on("HEAD /rest/v1/todos", func(w http.ResponseWriter, r recorded) {
		w.Header().Set("Content-Range", "*/3")
	})
	b := newBackend(t, fake)

	loc := time.FixedZone("UTC+13", 13*3600)
	now := time.Date(2024, 3, 5, 23, 30, 0, 0, loc)

	n, err := b.Todos().CountToday(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = b.Todos().CountUpcoming(context.Background(), "u1", now)
	require.NoError(t, err)

	calls := fake.callsTo("HEAD /rest/v1/todos")
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"not.is.null", "lt.2024-03-06"}, calls[0].Query["due_date"])
	assert.Equal(t, "eq.false", calls[0].Query.Get("completed"))
	assert.Equal(t, "gte.2024-03-06", calls[1].Query.Get("due_date"))
}

func TestEnsureSampleDataSkipsExistingUsers(t *testing.T) {
	fake := &fakeREST{}
	fake.on("GET /rest/v1/projects", func(w http.ResponseWriter, r recorded) {
		writeJSON(w, `[{"id":"p1","name":"Inbox","is_inbox":true}]`)
	})
	b := newBackend(t, fake)

	b.EnsureSampleData(context.Background(), "u1")
	assert.Empty(t, fake.callsTo("POST /rest/v1/rpc/create_default_inbox_project"))
	assert.Empty(t, fake.callsTo("POST /rest/v1/todos"))
}

func TestEnsureSampleDataSeedsNewUsersAfterSchemaRetry(t *testing.T) {
	sampleRetryDelay = time.Millisecond
	defer func() { sampleRetryDelay = 2 * time.Second }()

	fake := &fakeREST{}
	var listCalls atomic.Int32
	fake.on("GET /rest/v1/projects", func(w http.ResponseWriter, r recorded) {
		if listCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, `{"code":"PGRST002","message":"schema cache"}`)
			return
		}
		writeJSON(w, `[]`)
	})
	fake.on("POST /rest/v1/rpc/create_default_inbox_project", func(w http.ResponseWriter, r recorded) {
		writeJSON(w, `"inbox-1"`)
	})
	fake.on("POST /rest/v1/projects", func(w http.ResponseWriter, r recorded) {
		writeJSON(w, `[{"id":"sample-1","name":"Dev Sandbox","color":"green"}]`)
	})
	var todoN atomic.Int32
	fake.on("POST /rest/v1/todos", func(w http.ResponseWriter, r recorded) {
		n := todoN.Add(1)
		writeJSON(w, fmt.Sprintf(`[{"id":"t%d","text":"x","created_at":"2024-03-05T10:00:00Z"}]`, n))
	})
	fake.on("PATCH /rest/v1/todos", func(w http.ResponseWriter, r recorded) {
		assert.JSONEq(t, `{"completed":true}`, string(r.Body))
		writeJSON(w, `[{"id":"t5","text":"x","completed":true,"created_at":"2024-03-05T10:00:00Z"}]`)
	})
	b := newBackend(t, fake)

	b.EnsureSampleData(context.Background(), "u1")

	assert.Equal(t, int32(2), listCalls.Load())
	assert.Len(t, fake.callsTo("POST /rest/v1/rpc/create_default_inbox_project"), 1)
	assert.Len(t, fake.callsTo("POST /rest/v1/todos"), 5)
	patches := fake.callsTo("PATCH /rest/v1/todos")
	require.Len(t, patches, 1)
	assert.Equal(t, "eq.t5", patches[0].Query.Get("id"))
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), "op", func() (int, error) {
		calls++
		return 0, errors.New("permission denied")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
