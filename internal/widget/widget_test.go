package widget

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aksanoble/hasu/internal/db"
	"github.com/aksanoble/hasu/internal/model"
)

type memPrefs struct {
	mu   sync.Mutex
	data map[string]string
	fail error
}

func newMemPrefs() *memPrefs { return &memPrefs{data: map[string]string{}} }

func (m *memPrefs) Get(ns, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", false, m.fail
	}
	v, ok := m.data[ns+"/"+key]
	return v, ok, nil
}

func (m *memPrefs) Set(ns, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data[ns+"/"+key] = value
	return nil
}

func (m *memPrefs) Delete(ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, ns+"/"+key)
	return nil
}

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMillis() int64 { return c.ms }

func (c *fakeClock) advance(d time.Duration) { c.ms += d.Milliseconds() }

var created = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func todo(id string, due *string, completed bool, age time.Duration) model.Todo {
	return model.Todo{ID: id, Text: "task " + id, Completed: completed, DueDate: due, CreatedAt: created.Add(-age)}
}

// --- snapshot ---

func TestFileStoreRoundTripWritesRawArray(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)
	m := NewMirror(fs)

	inbox := &model.Project{Name: "Inbox"}
	td := todo("1", model.StringPtr("2024-03-05"), false, 0)
	td.Project = inbox
	require.NoError(t, m.Publish([]model.Todo{td}, true))

	data, err := os.ReadFile(filepath.Join(dir, SnapshotFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"todos":[{`)
	assert.Contains(t, string(data), `"is_logged_in":true`)
	assert.Contains(t, string(data), `"project":{"name":"Inbox"}`)

	snap := Read(fs)
	assert.True(t, snap.LoggedIn)
	require.Len(t, snap.Todos, 1)
	assert.Equal(t, "1", snap.Todos[0].ID)
	assert.Equal(t, "2024-03-05", *snap.Todos[0].DueDate)
}

func TestFileStoreAcceptsStringEncodedTodos(t *testing.T) {
	dir := t.TempDir()
	body := `{"todos":"[{\"id\":\"7\",\"text\":\"x\",\"completed\":false,\"created_at\":\"2024-03-01T00:00:00Z\",\"due_date\":null}]","is_logged_in":true}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, SnapshotFile), []byte(body), 0644))

	snap := Read(NewFileStore(dir))
	require.Len(t, snap.Todos, 1)
	assert.Equal(t, "7", snap.Todos[0].ID)
	assert.Nil(t, snap.Todos[0].DueDate)
}

func TestMalformedSnapshotReadsAsLoggedOut(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SnapshotFile), []byte(`{"todos": 12`), 0644))

	snap := Read(NewFileStore(dir))
	assert.False(t, snap.LoggedIn)
	assert.Empty(t, snap.Todos)

	snap = Read(NewFileStore(t.TempDir()))
	assert.False(t, snap.LoggedIn)
}

func TestFallbackStoreUsesPrefsWhenFileMissing(t *testing.T) {
	prefs := newMemPrefs()
	secondary := &PrefsStore{Prefs: prefs}
	require.NoError(t, secondary.Save(Snapshot{Todos: []Item{{ID: "p1", Text: "from prefs"}}, LoggedIn: true}))

	store := &FallbackStore{Primary: NewFileStore(t.TempDir()), Secondary: secondary}
	snap := Read(store)
	assert.True(t, snap.LoggedIn)
	require.Len(t, snap.Todos, 1)
	assert.Equal(t, "p1", snap.Todos[0].ID)
}

func TestFallbackStoreSavesBoth(t *testing.T) {
	dir := t.TempDir()
	prefs := newMemPrefs()
	store := &FallbackStore{Primary: NewFileStore(dir), Secondary: &PrefsStore{Prefs: prefs}}
	require.NoError(t, NewMirror(store).Publish([]model.Todo{todo("a", nil, false, 0)}, true))

	v, ok, _ := prefs.Get(PrefsNamespace, keyTodos)
	assert.True(t, ok)
	assert.Contains(t, v, `"id":"a"`)
	_, err := os.Stat(filepath.Join(dir, SnapshotFile))
	assert.NoError(t, err)
}

func TestFallbackStoreIgnoresSecondaryWriteFailure(t *testing.T) {
	prefs := newMemPrefs()
	prefs.fail = errors.New("disk full")
	store := &FallbackStore{Primary: NewFileStore(t.TempDir()), Secondary: &PrefsStore{Prefs: prefs}}
	assert.NoError(t, store.Save(Snapshot{LoggedIn: true}))
}

func TestClearPublishesLoggedOut(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	m := NewMirror(fs)
	var published []Snapshot
	m.OnPublish = func(s Snapshot) { published = append(published, s) }

	require.NoError(t, m.Publish([]model.Todo{todo("a", nil, false, 0)}, true))
	require.NoError(t, m.Clear())

	snap := Read(fs)
	assert.False(t, snap.LoggedIn)
	assert.Empty(t, snap.Todos)
	assert.Len(t, published, 2)
}

func TestPrefsStoreOverSQLite(t *testing.T) {
	d, err := db.OpenIn(t.TempDir())
	require.NoError(t, err)
	defer d.Close()

	store := &PrefsStore{Prefs: d}
	_, err = store.Load()
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, store.Save(Snapshot{Todos: []Item{{ID: "s"}}, LoggedIn: true}))
	snap, err := store.Load()
	require.NoError(t, err)
	assert.True(t, snap.LoggedIn)
	assert.Equal(t, "s", snap.Todos[0].ID)
}

// --- visible ---

func TestVisiblePrefersDueToday(t *testing.T) {
	now := time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC)
	items := []Item{
		ItemFromTodo(todo("old", model.StringPtr("2024-03-05"), false, 2*time.Hour)),
		ItemFromTodo(todo("new", model.StringPtr("2024-03-05T08:00:00Z"), false, time.Hour)),
		ItemFromTodo(todo("done", model.StringPtr("2024-03-05"), true, 0)),
		ItemFromTodo(todo("overdue", model.StringPtr("2024-03-04"), false, 0)),
		ItemFromTodo(todo("nodue", nil, false, 0)),
	}

	got := Visible(items, now)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "old", got[1].ID)
}

func TestVisibleFallsBackToAllIncomplete(t *testing.T) {
	now := time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC)
	items := []Item{
		ItemFromTodo(todo("a", nil, false, 3*time.Hour)),
		ItemFromTodo(todo("b", model.StringPtr("2024-03-09"), false, time.Hour)),
		ItemFromTodo(todo("c", nil, true, 0)),
	}

	got := Visible(items, now)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestVisibleUsesLocalDay(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	// 2024-03-05 20:00 UTC is already 2024-03-06 in Kolkata
	now := time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC).In(kolkata)
	items := []Item{
		ItemFromTodo(todo("utc-today", model.StringPtr("2024-03-05"), false, 0)),
		ItemFromTodo(todo("local-today", model.StringPtr("2024-03-06"), false, 0)),
	}
	got := Visible(items, now)
	require.Len(t, got, 1)
	assert.Equal(t, "local-today", got[0].ID)
}

// --- timer ---

func TestTimerStartPauseResume(t *testing.T) {
	clk := &fakeClock{ms: 1_000}
	tm := NewTimer(newMemPrefs(), clk)

	state, err := tm.Toggle("a", "Write report")
	require.NoError(t, err)
	assert.Equal(t, TimerRunning, state)
	assert.Equal(t, "Write report", tm.Title("a"))

	clk.advance(10 * time.Minute)
	d, err := tm.Elapsed("a")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, d)

	state, err = tm.Toggle("a", "")
	require.NoError(t, err)
	assert.Equal(t, TimerIdle, state)
	assert.Equal(t, TimerIdle, tm.State())
	sel, ok := tm.Selected()
	assert.True(t, ok)
	assert.Equal(t, "a", sel)

	clk.advance(time.Hour)
	d, _ = tm.Elapsed("a")
	assert.Equal(t, 10*time.Minute, d, "paused time does not accrue")

	state, _ = tm.Toggle("a", "")
	assert.Equal(t, TimerRunning, state)
	clk.advance(5 * time.Minute)
	d, _ = tm.Elapsed("a")
	assert.Equal(t, 15*time.Minute, d)
}

func TestTimerSwitchBanksPreviousTask(t *testing.T) {
	clk := &fakeClock{ms: 1}
	tm := NewTimer(newMemPrefs(), clk)

	_, _ = tm.Toggle("a", "A")
	clk.advance(20 * time.Minute)
	state, err := tm.Toggle("b", "B")
	require.NoError(t, err)
	assert.Equal(t, TimerRunning, state)

	clk.advance(7 * time.Minute)
	a, _ := tm.Elapsed("a")
	b, _ := tm.Elapsed("b")
	assert.Equal(t, 20*time.Minute, a)
	assert.Equal(t, 7*time.Minute, b)

	sel, _ := tm.Selected()
	assert.Equal(t, "b", sel)
}

func TestTimerSwitchFromPausedDoesNotBank(t *testing.T) {
	clk := &fakeClock{ms: 1}
	tm := NewTimer(newMemPrefs(), clk)

	_, _ = tm.Toggle("a", "")
	clk.advance(time.Minute)
	_, _ = tm.Toggle("a", "")
	clk.advance(time.Hour)
	_, _ = tm.Toggle("b", "")

	a, _ := tm.Elapsed("a")
	assert.Equal(t, time.Minute, a)
}

func TestTimerRejectsEmptyID(t *testing.T) {
	tm := NewTimer(newMemPrefs(), &fakeClock{})
	_, err := tm.Toggle("", "")
	assert.Error(t, err)
}

func TestTimerOverSQLitePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	clk := &fakeClock{ms: 100}

	d, err := db.OpenIn(dir)
	require.NoError(t, err)
	_, err = NewTimer(d, clk).Toggle("x", "X")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	clk.advance(3 * time.Minute)
	d, err = db.OpenIn(dir)
	require.NoError(t, err)
	defer d.Close()
	tm := NewTimer(d, clk)
	assert.Equal(t, TimerRunning, tm.State())
	got, _ := tm.Elapsed("x")
	assert.Equal(t, 3*time.Minute, got)
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "", FormatElapsed(0))
	assert.Equal(t, "00:00", FormatElapsed(59*time.Second))
	assert.Equal(t, "01:05", FormatElapsed(65*time.Minute))
	assert.Equal(t, "25:00", FormatElapsed(25*time.Hour))
}

// At most one task runs and banked totals only grow.
func TestTimerInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clk := &fakeClock{ms: 1}
		tm := NewTimer(newMemPrefs(), clk)
		ids := []string{"a", "b", "c"}
		prev := map[string]time.Duration{}

		n := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < n; i++ {
			clk.advance(time.Duration(rapid.IntRange(0, 600).Draw(rt, "secs")) * time.Second)
			id := rapid.SampledFrom(ids).Draw(rt, "id")
			state, err := tm.Toggle(id, "")
			if err != nil {
				rt.Fatal(err)
			}
			sel, _ := tm.Selected()
			if sel != id {
				rt.Fatalf("selected %q after toggling %q", sel, id)
			}
			if state != tm.State() {
				rt.Fatalf("toggle returned %v, state is %v", state, tm.State())
			}
			for _, other := range ids {
				d, _ := tm.Elapsed(other)
				if d < prev[other] {
					rt.Fatalf("elapsed for %s went from %v to %v", other, prev[other], d)
				}
				prev[other] = d
			}
		}
	})
}

// --- refresher ---

type fakeSource struct {
	calls atomic.Int32
	list  func(ctx context.Context, userID string) ([]model.Todo, error)
}

func (f *fakeSource) ListActive(ctx context.Context, userID string) ([]model.Todo, error) {
	f.calls.Add(1)
	return f.list(ctx, userID)
}

func TestRefreshNowPublishesActiveTodos(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	src := &fakeSource{list: func(_ context.Context, userID string) ([]model.Todo, error) {
		assert.Equal(t, "user-1", userID)
		return []model.Todo{todo("a", nil, false, 0), todo("b", nil, false, 0)}, nil
	}}
	r := NewRefresher(src, NewMirror(fs), func() (string, bool) { return "user-1", true }, time.Hour)

	var got Snapshot
	r.SetOnRefresh(func(s Snapshot) { got = s })
	require.NoError(t, r.RefreshNow(context.Background()))

	assert.True(t, got.LoggedIn)
	assert.Len(t, got.Todos, 2)
}

func TestRefreshNowWithoutSessionPublishesLoggedOut(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	src := &fakeSource{list: func(context.Context, string) ([]model.Todo, error) {
		t.Fatal("no fetch without a session")
		return nil, nil
	}}
	r := NewRefresher(src, NewMirror(fs), func() (string, bool) { return "", false }, time.Hour)
	require.NoError(t, r.RefreshNow(context.Background()))

	snap := Read(fs)
	assert.False(t, snap.LoggedIn)
	assert.Empty(t, snap.Todos)
}

func TestRefreshNowKeepsSnapshotOnFetchError(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	m := NewMirror(fs)
	require.NoError(t, m.Publish([]model.Todo{todo("keep", nil, false, 0)}, true))

	src := &fakeSource{list: func(context.Context, string) ([]model.Todo, error) {
		return nil, errors.New("offline")
	}}
	r := NewRefresher(src, m, func() (string, bool) { return "u", true }, time.Hour)
	assert.Error(t, r.RefreshNow(context.Background()))

	snap := Read(fs)
	require.Len(t, snap.Todos, 1)
	assert.Equal(t, "keep", snap.Todos[0].ID)
}

func TestRefresherPeriodicLoop(t *testing.T) {
	src := &fakeSource{list: func(context.Context, string) ([]model.Todo, error) { return nil, nil }}
	r := NewRefresher(src, NewMirror(NewFileStore(t.TempDir())), func() (string, bool) { return "u", true }, 10*time.Millisecond)

	r.Start()
	r.Start()
	assert.Eventually(t, func() bool { return src.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	r.Stop()
	r.Stop()

	after := src.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, src.calls.Load())
}

// --- watcher ---

func TestWatcherSignalsOnSnapshotWrite(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644))
	require.NoError(t, NewMirror(NewFileStore(dir)).Publish(nil, true))

	select {
	case <-w.Reload():
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after snapshot write")
	}
}

func TestWatcherStartTwiceFails(t *testing.T) {
	w, err := NewWatcher(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	assert.Error(t, w.Start())
	require.NoError(t, w.Stop())
}
