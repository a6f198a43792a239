package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/postgrest"
	"github.com/aksanoble/hasu/internal/store"
)

// fakeTodos implements TodoService with overridable funcs.
type fakeTodos struct {
	list          func(ctx context.Context) ([]model.Todo, error)
	listByProject func(ctx context.Context, projectID string) ([]model.Todo, error)
	update        func(ctx context.Context, id string, patch store.TodoPatch) (*model.Todo, error)
	delete        func(ctx context.Context, id string) error
}

func (f *fakeTodos) List(ctx context.Context) ([]model.Todo, error) {
	if f.list == nil {
		return nil, nil
	}
	return f.list(ctx)
}

func (f *fakeTodos) ListByProject(ctx context.Context, projectID string) ([]model.Todo, error) {
	if f.listByProject == nil {
		return nil, nil
	}
	return f.listByProject(ctx, projectID)
}

func (f *fakeTodos) Update(ctx context.Context, id string, patch store.TodoPatch) (*model.Todo, error) {
	if f.update == nil {
		return &model.Todo{ID: id}, nil
	}
	return f.update(ctx, id, patch)
}

func (f *fakeTodos) Delete(ctx context.Context, id string) error {
	if f.delete == nil {
		return nil
	}
	return f.delete(ctx, id)
}

var fixedNow = time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func event(typ postgrest.EventType, rec, old *model.Todo) postgrest.ChangeEvent {
	ev := postgrest.ChangeEvent{Type: typ, Schema: "s", Table: store.TableTodos}
	if rec != nil {
		ev.New, _ = json.Marshal(rec)
	}
	if old != nil {
		ev.Old, _ = json.Marshal(old)
	}
	return ev
}

func ids(todos []model.Todo) []string {
	out := []string{}
	for _, t := range todos {
		out = append(out, t.ID)
	}
	return out
}

func TestLoadUsesProjectQuery(t *testing.T) {
	var asked string
	svc := &fakeTodos{
		listByProject: func(_ context.Context, id string) ([]model.Todo, error) {
			asked = id
			return []model.Todo{
				mkTodo("a", false, nil, "p1", fixedNow),
				mkTodo("b", true, nil, "p1", fixedNow),
			}, nil
		},
	}
	l := NewList(svc, Project("p1", "Work"), WithClock(clock))
	require.NoError(t, l.Load(context.Background()))
	assert.Equal(t, "p1", asked)
	assert.Equal(t, []string{"a"}, ids(l.Items()))
}

func TestLoadError(t *testing.T) {
	svc := &fakeTodos{list: func(context.Context) ([]model.Todo, error) {
		return nil, store.ErrUninitialized
	}}
	err := NewList(svc, Today()).Load(context.Background())
	assert.ErrorIs(t, err, store.ErrUninitialized)
}

func TestApplyInsertUpdateDelete(t *testing.T) {
	l := NewList(&fakeTodos{}, Today(), WithClock(clock))
	l.Reset([]model.Todo{mkTodo("a", false, day("2024-03-05"), "", fixedNow)})

	b := mkTodo("b", false, day("2024-03-04"), "", fixedNow)
	l.Apply(event(postgrest.EventInsert, &b, nil))
	assert.Equal(t, []string{"b", "a"}, ids(l.Items()))

	// not due yet, ignored
	c := mkTodo("c", false, day("2024-03-09"), "", fixedNow)
	l.Apply(event(postgrest.EventInsert, &c, nil))
	assert.Equal(t, []string{"b", "a"}, ids(l.Items()))

	// moved into the window
	c.DueDate = day("2024-03-05")
	l.Apply(event(postgrest.EventUpdate, &c, &model.Todo{ID: "c"}))
	assert.Equal(t, []string{"c", "b", "a"}, ids(l.Items()))

	// completed elsewhere
	done := b
	done.Completed = true
	l.Apply(event(postgrest.EventUpdate, &done, &b))
	assert.Equal(t, []string{"c", "a"}, ids(l.Items()))

	l.Apply(event(postgrest.EventDelete, nil, &model.Todo{ID: "a"}))
	assert.Equal(t, []string{"c"}, ids(l.Items()))

	// deleting an absent row is harmless
	l.Apply(event(postgrest.EventDelete, nil, &model.Todo{ID: "zzz"}))
	assert.Equal(t, []string{"c"}, ids(l.Items()))
}

func TestApplyUpdateKeepsJoinedProject(t *testing.T) {
	l := NewList(&fakeTodos{}, Default(), WithClock(clock))
	a := mkTodo("a", false, nil, "p1", fixedNow)
	a.Project = &model.Project{ID: "p1", Name: "Work"}
	l.Reset([]model.Todo{a})

	upd := mkTodo("a", false, nil, "p1", fixedNow)
	upd.Text = "renamed"
	l.Apply(event(postgrest.EventUpdate, &upd, &model.Todo{ID: "a"}))

	items := l.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "renamed", items[0].Text)
	require.NotNil(t, items[0].Project)
	assert.Equal(t, "Work", items[0].Project.Name)
}

func TestApplyIgnoresMalformedRecord(t *testing.T) {
	l := NewList(&fakeTodos{}, Default(), WithClock(clock))
	l.Reset([]model.Todo{mkTodo("a", false, nil, "", fixedNow)})
	l.Apply(postgrest.ChangeEvent{Type: postgrest.EventInsert, New: json.RawMessage(`{"id":`)})
	assert.Equal(t, []string{"a"}, ids(l.Items()))
}

func TestToggleRemovesFromActiveView(t *testing.T) {
	var patched *bool
	svc := &fakeTodos{update: func(_ context.Context, id string, p store.TodoPatch) (*model.Todo, error) {
		patched = p.Completed
		return &model.Todo{ID: id}, nil
	}}
	var changes int
	l := NewList(svc, Default(), WithClock(clock), WithOnChange(func([]model.Todo) { changes++ }))
	a := mkTodo("a", false, nil, "", fixedNow)
	l.Reset([]model.Todo{a, mkTodo("b", false, nil, "", fixedNow.Add(-time.Hour))})

	require.NoError(t, l.Toggle(context.Background(), "a"))
	require.NotNil(t, patched)
	assert.True(t, *patched)
	assert.Equal(t, []string{"b"}, ids(l.Items()))

	// the authoritative update arrives later and changes nothing
	done := a
	done.Completed = true
	l.Apply(event(postgrest.EventUpdate, &done, &a))
	assert.Equal(t, []string{"b"}, ids(l.Items()))

	// undone from another device: membership is back
	l.Apply(event(postgrest.EventUpdate, &a, &done))
	assert.Equal(t, []string{"a", "b"}, ids(l.Items()))
	assert.Equal(t, 3, changes)
}

func TestToggleRollbackRestoresPositionAndNotifies(t *testing.T) {
	boom := errors.New("network down")
	svc := &fakeTodos{update: func(context.Context, string, store.TodoPatch) (*model.Todo, error) {
		return nil, boom
	}}
	var notified error
	l := NewList(svc, Default(), WithClock(clock), WithNotifier(func(err error) { notified = err }))
	l.Reset([]model.Todo{
		mkTodo("a", false, nil, "", fixedNow),
		mkTodo("b", false, nil, "", fixedNow.Add(-time.Hour)),
		mkTodo("c", false, nil, "", fixedNow.Add(-2*time.Hour)),
	})
	before := l.Items()

	err := l.Toggle(context.Background(), "b")
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, notified, boom)
	assert.Equal(t, before, l.Items())
}

func TestEditMovesTodoOutOfView(t *testing.T) {
	var sent store.TodoPatch
	svc := &fakeTodos{update: func(_ context.Context, id string, p store.TodoPatch) (*model.Todo, error) {
		sent = p
		return &model.Todo{ID: id}, nil
	}}
	today := NewList(svc, Today(), WithClock(clock))
	today.Reset([]model.Todo{
		mkTodo("a", false, day("2024-03-05"), "p1", fixedNow),
		mkTodo("b", false, day("2024-03-05"), "p1", fixedNow.Add(-time.Hour)),
	})

	// postponed to tomorrow: no longer due today
	require.NoError(t, today.Edit(context.Background(), "a", store.TodoPatch{DueDate: day("2024-03-06")}))
	assert.Equal(t, []string{"b"}, ids(today.Items()))
	require.NotNil(t, sent.DueDate)
	assert.Equal(t, "2024-03-06", *sent.DueDate)

	// renamed in place
	require.NoError(t, today.Edit(context.Background(), "b", store.TodoPatch{Text: model.StringPtr("Call the bank")}))
	assert.Equal(t, "Call the bank", today.Items()[0].Text)

	project := NewList(svc, Project("p1", "Work"), WithClock(clock))
	project.Reset([]model.Todo{mkTodo("c", false, nil, "p1", fixedNow)})
	require.NoError(t, project.Edit(context.Background(), "c", store.TodoPatch{ProjectID: model.StringPtr("p2")}))
	assert.Empty(t, project.Items())

	assert.Error(t, project.Edit(context.Background(), "c", store.TodoPatch{}))
}

func TestEditKeepsJoinedProjectFromServer(t *testing.T) {
	home := &model.Project{ID: "p2", Name: "Home"}
	svc := &fakeTodos{update: func(_ context.Context, id string, p store.TodoPatch) (*model.Todo, error) {
		return &model.Todo{ID: id, ProjectID: p.ProjectID, Project: home}, nil
	}}
	l := NewList(svc, Default(), WithClock(clock))
	l.Reset([]model.Todo{mkTodo("a", false, nil, "p1", fixedNow)})

	require.NoError(t, l.Edit(context.Background(), "a", store.TodoPatch{ProjectID: model.StringPtr("p2")}))
	got := l.Items()[0]
	assert.Equal(t, "p2", got.ProjectKey())
	require.NotNil(t, got.Project)
	assert.Equal(t, "Home", got.Project.Name)
}

func TestEditRollbackRestoresTodo(t *testing.T) {
	boom := errors.New("timeout")
	svc := &fakeTodos{update: func(context.Context, string, store.TodoPatch) (*model.Todo, error) {
		return nil, boom
	}}
	var notified error
	l := NewList(svc, Today(), WithClock(clock), WithNotifier(func(err error) { notified = err }))
	l.Reset([]model.Todo{
		mkTodo("a", false, day("2024-03-05"), "", fixedNow),
		mkTodo("b", false, day("2024-03-05"), "", fixedNow.Add(-time.Hour)),
	})
	before := l.Items()

	err := l.Edit(context.Background(), "a", store.TodoPatch{ClearDueDate: true, Text: model.StringPtr("renamed")})
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, notified, boom)
	assert.Contains(t, err.Error(), "failed to edit todo a")
	assert.Equal(t, before, l.Items())
}

func TestPatched(t *testing.T) {
	proj := &model.Project{ID: "p1", Name: "Work"}
	base := model.Todo{ID: "a", Text: "old", DueDate: day("2024-03-05"), ProjectID: model.StringPtr("p1"), Project: proj}

	same := Patched(base, store.TodoPatch{ProjectID: model.StringPtr("p1")})
	assert.Same(t, proj, same.Project)

	moved := Patched(base, store.TodoPatch{ProjectID: model.StringPtr("p2"), ClearDueDate: true})
	assert.Equal(t, "p2", moved.ProjectKey())
	assert.Nil(t, moved.Project)
	assert.Nil(t, moved.DueDate)

	cleared := Patched(base, store.TodoPatch{ClearProject: true, Text: model.StringPtr("new")})
	assert.Empty(t, cleared.ProjectKey())
	assert.Equal(t, "new", cleared.Text)
	// the original is untouched
	assert.Equal(t, "old", base.Text)
	assert.Equal(t, "p1", base.ProjectKey())
}

func TestToggleUnknownID(t *testing.T) {
	l := NewList(&fakeTodos{}, Default(), WithClock(clock))
	assert.Error(t, l.Toggle(context.Background(), "nope"))
}

func TestDeleteRestoresSnapshot(t *testing.T) {
	boom := errors.New("constraint")
	svc := &fakeTodos{delete: func(context.Context, string) error { return boom }}
	var notified error
	l := NewList(svc, Default(), WithClock(clock), WithNotifier(func(err error) { notified = err }))
	l.Reset([]model.Todo{
		mkTodo("a", false, nil, "", fixedNow),
		mkTodo("b", false, nil, "", fixedNow.Add(-time.Hour)),
	})
	before := l.Items()

	require.ErrorIs(t, l.Delete(context.Background(), "a"), boom)
	assert.Equal(t, before, l.Items())
	assert.ErrorIs(t, notified, boom)

	svc.delete = nil
	require.NoError(t, l.Delete(context.Background(), "a"))
	assert.Equal(t, []string{"b"}, ids(l.Items()))
}

// End to end over the view rules: create, complete, delete.
func TestTodoLifecycleAcrossViews(t *testing.T) {
	views := map[string]*List{
		"today":     NewList(&fakeTodos{}, Today(), WithClock(clock)),
		"upcoming":  NewList(&fakeTodos{}, Upcoming(), WithClock(clock)),
		"completed": NewList(&fakeTodos{}, Completed(), WithClock(clock)),
	}
	broadcast := func(ev postgrest.ChangeEvent) {
		for _, l := range views {
			l.Apply(ev)
		}
	}
	visibleIn := func() []string {
		var out []string
		for name, l := range views {
			if l.Len() > 0 {
				out = append(out, name)
			}
		}
		sort.Strings(out)
		return out
	}

	milk := model.Todo{ID: "m", Text: "Buy milk", DueDate: day(model.LocalDay(fixedNow, time.UTC)), CreatedAt: fixedNow}
	broadcast(event(postgrest.EventInsert, &milk, nil))
	assert.Equal(t, []string{"today"}, visibleIn())

	require.NoError(t, views["today"].Toggle(context.Background(), "m"))
	done := milk
	done.Completed = true
	broadcast(event(postgrest.EventUpdate, &done, &milk))
	assert.Equal(t, []string{"completed"}, visibleIn())

	broadcast(event(postgrest.EventDelete, nil, &model.Todo{ID: "m"}))
	assert.Empty(t, visibleIn())
}

// todoGen draws a todo state for id.
func todoGen(id string) *rapid.Generator[model.Todo] {
	return rapid.Custom(func(t *rapid.T) model.Todo {
		td := model.Todo{
			ID:        id,
			Text:      "task " + id,
			Completed: rapid.Bool().Draw(t, "completed"),
			CreatedAt: fixedNow.Add(-time.Duration(rapid.IntRange(0, 1000).Draw(t, "age")) * time.Minute),
		}
		if offset := rapid.IntRange(-3, 4).Draw(t, "due"); offset < 4 {
			td.DueDate = day(model.LocalDay(fixedNow.AddDate(0, 0, offset), time.UTC))
		}
		td.ProjectID = model.StringPtr(rapid.SampledFrom([]string{"", "p1", "p2"}).Draw(t, "project"))
		return td
	})
}

var selectorGen = rapid.SampledFrom([]Selector{Default(), Today(), Upcoming(), Completed(), Project("p1", "One")})

func TestReconcileMatchesFinalState(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sel := selectorGen.Draw(t, "selector")
		l := NewList(&fakeTodos{}, sel, WithClock(clock))

		server := map[string]model.Todo{}
		var initial []model.Todo
		n := rapid.IntRange(0, 4).Draw(t, "initial")
		for i := 0; i < n; i++ {
			td := todoGen(fmt.Sprintf("t%d", i)).Draw(t, "seed")
			server[td.ID] = td
			initial = append(initial, td)
		}
		l.Reset(initial)

		steps := rapid.IntRange(0, 30).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			id := fmt.Sprintf("t%d", rapid.IntRange(0, 5).Draw(t, "id"))
			prev, exists := server[id]

			var ev postgrest.ChangeEvent
			if exists && rapid.IntRange(0, 3).Draw(t, "op") == 0 {
				delete(server, id)
				ev = event(postgrest.EventDelete, nil, &model.Todo{ID: id})
			} else {
				next := todoGen(id).Draw(t, "state")
				server[id] = next
				if exists {
					ev = event(postgrest.EventUpdate, &next, &prev)
				} else {
					ev = event(postgrest.EventInsert, &next, nil)
				}
			}

			l.Apply(ev)
			if rapid.Bool().Draw(t, "redeliver") {
				before := l.Items()
				l.Apply(ev)
				if !assert.ObjectsAreEqual(before, l.Items()) {
					t.Fatalf("redelivered %s changed the list", ev.Type)
				}
			}
		}

		var want []string
		for id, td := range server {
			if sel.Match(td, fixedNow) {
				want = append(want, id)
			}
		}
		got := ids(l.Items())
		sort.Strings(want)
		sort.Strings(got)
		if len(want) == 0 {
			want = []string{}
		}
		assert.Equal(t, want, got)
	})
}

func TestFailedToggleLeavesListUnchanged(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sel := selectorGen.Draw(t, "selector")
		l := NewList(&fakeTodos{update: func(context.Context, string, store.TodoPatch) (*model.Todo, error) {
			return nil, errors.New("offline")
		}}, sel, WithClock(clock))

		var todos []model.Todo
		n := rapid.IntRange(1, 6).Draw(t, "n")
		for i := 0; i < n; i++ {
			todos = append(todos, todoGen(fmt.Sprintf("t%d", i)).Draw(t, "todo"))
		}
		l.Reset(todos)
		before := l.Items()
		if len(before) == 0 {
			t.Skip("nothing visible")
		}

		target := rapid.SampledFrom(before).Draw(t, "target")
		if err := l.Toggle(context.Background(), target.ID); err == nil {
			t.Fatalf("expected toggle to fail")
		}
		assert.Equal(t, before, l.Items())
	})
}
