package view

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/postgrest"
	"github.com/aksanoble/hasu/internal/store"
)

// TodoService is the part of the data layer a List writes through.
// *store.Todos implements it.
type TodoService interface {
	List(ctx context.Context) ([]model.Todo, error)
	ListByProject(ctx context.Context, projectID string) ([]model.Todo, error)
	Update(ctx context.Context, id string, patch store.TodoPatch) (*model.Todo, error)
	Delete(ctx context.Context, id string) error
}

// Option configures a List.
type Option func(*List)

// WithClock overrides time.Now, which decides today and upcoming.
func WithClock(now func() time.Time) Option {
	return func(l *List) { l.now = now }
}

// WithNotifier receives errors from failed optimistic mutations after they
// have been rolled back.
func WithNotifier(fn func(error)) Option {
	return func(l *List) { l.notify = fn }
}

// WithOnChange is called with a copy of the items after every change.
func WithOnChange(fn func([]model.Todo)) Option {
	return func(l *List) { l.onChange = fn }
}

// List is the visible todo list of one selector.
type List struct {
	mu    sync.Mutex
	sel   Selector
	items []model.Todo
	svc   TodoService

	now      func() time.Time
	notify   func(error)
	onChange func([]model.Todo)
}

// NewList returns an empty list for sel. Call Load to fill it.
func NewList(svc TodoService, sel Selector, opts ...Option) *List {
	l := &List{svc: svc, sel: sel, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Selector returns the list's selector.
func (l *List) Selector() Selector {
	return l.sel
}

// Items returns a copy of the list in its current order.
func (l *List) Items() []model.Todo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Todo(nil), l.items...)
}

// Sections returns the items grouped and sorted for display.
func (l *List) Sections() []Section {
	return Sections(l.sel, l.Items(), l.now())
}

// Len returns the number of visible items.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Load fetches the todos and keeps those the selector matches.
func (l *List) Load(ctx context.Context) error {
	var (
		todos []model.Todo
		err   error
	)
	if l.sel.Kind == KindProject {
		todos, err = l.svc.ListByProject(ctx, l.sel.ProjectID)
	} else {
		todos, err = l.svc.List(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", l.sel, err)
	}
	l.Reset(todos)
	return nil
}

// Reset replaces the items with the matching subset of todos.
func (l *List) Reset(todos []model.Todo) {
	l.mu.Lock()
	l.items = Filter(l.sel, todos, l.now())
	l.mu.Unlock()
	l.changed()
}

func (l *List) changed() {
	if l.onChange != nil {
		l.onChange(l.Items())
	}
}

func (l *List) indexOf(id string) int {
	for i, t := range l.items {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (l *List) removeAt(i int) model.Todo {
	t := l.items[i]
	l.items = append(l.items[:i:i], l.items[i+1:]...)
	return t
}

func (l *List) insertAt(i int, t model.Todo) {
	if i < 0 {
		i = 0
	}
	if i > len(l.items) {
		i = len(l.items)
	}
	l.items = append(l.items[:i:i], append([]model.Todo{t}, l.items[i:]...)...)
}

// Apply reconciles one realtime change event for the todos table. Applying
// the same event twice leaves the list as applying it once.
func (l *List) Apply(ev postgrest.ChangeEvent) {
	var rec, old model.Todo
	if len(ev.New) > 0 {
		if err := json.Unmarshal(ev.New, &rec); err != nil {
			logger.Warn("Dropping malformed change record", logger.F("type", ev.Type), logger.F("error", err))
			return
		}
	}
	if len(ev.Old) > 0 {
		if err := json.Unmarshal(ev.Old, &old); err != nil {
			logger.Warn("Dropping malformed change record", logger.F("type", ev.Type), logger.F("error", err))
			return
		}
	}

	l.mu.Lock()
	changed := l.apply(ev.Type, rec, old)
	l.mu.Unlock()
	if changed {
		l.changed()
	}
}

func (l *List) apply(typ postgrest.EventType, rec, old model.Todo) bool {
	now := l.now()
	switch typ {
	case postgrest.EventInsert:
		if rec.ID == "" || !l.sel.Match(rec, now) || l.indexOf(rec.ID) >= 0 {
			return false
		}
		l.insertAt(0, rec)
		return true

	case postgrest.EventUpdate:
		if rec.ID == "" {
			return false
		}
		i := l.indexOf(rec.ID)
		if !l.sel.Match(rec, now) {
			if i < 0 {
				return false
			}
			l.removeAt(i)
			return true
		}
		if i < 0 {
			l.insertAt(0, rec)
			return true
		}
		// change records carry no joined project
		if rec.Project == nil && rec.ProjectKey() == l.items[i].ProjectKey() {
			rec.Project = l.items[i].Project
		}
		l.items[i] = rec
		return true

	case postgrest.EventDelete:
		id := old.ID
		if id == "" {
			id = rec.ID
		}
		if i := l.indexOf(id); i >= 0 {
			l.removeAt(i)
			return true
		}
	}
	return false
}

// Toggle flips the completed state of id. The list changes immediately; if
// the remote update fails the change is reverted, the notifier is told and
// the error is returned.
func (l *List) Toggle(ctx context.Context, id string) error {
	return l.update(ctx, "update", id, func(t model.Todo) store.TodoPatch {
		return store.SetCompleted(!t.Completed)
	})
}

// Edit changes the text, due date or project of id the same way Toggle
// changes its state. A todo the selector no longer matches leaves the list.
func (l *List) Edit(ctx context.Context, id string, patch store.TodoPatch) error {
	if patch.Empty() {
		return fmt.Errorf("nothing to change for todo %s", id)
	}
	return l.update(ctx, "edit", id, func(model.Todo) store.TodoPatch { return patch })
}

func (l *List) update(ctx context.Context, op, id string, patchFor func(model.Todo) store.TodoPatch) error {
	l.mu.Lock()
	i := l.indexOf(id)
	if i < 0 {
		l.mu.Unlock()
		return fmt.Errorf("todo not in view: %s", id)
	}
	prev := l.items[i]
	patch := patchFor(prev)
	next := Patched(prev, patch)
	removed := !l.sel.Match(next, l.now())
	if removed {
		l.removeAt(i)
	} else {
		l.items[i] = next
	}
	l.mu.Unlock()
	l.changed()

	saved, err := l.svc.Update(ctx, id, patch)
	if err != nil {
		l.mu.Lock()
		if j := l.indexOf(id); j >= 0 {
			l.items[j] = prev
		} else if removed {
			l.insertAt(i, prev)
		}
		l.mu.Unlock()
		l.changed()
		return l.fail(op, id, err)
	}

	// the saved row carries the joined project
	if saved != nil && saved.Project != nil {
		l.mu.Lock()
		j := l.indexOf(id)
		fill := j >= 0 && l.items[j].ProjectKey() == saved.ProjectKey()
		if fill {
			p := *saved.Project
			l.items[j].Project = &p
		}
		l.mu.Unlock()
		if fill {
			l.changed()
		}
	}
	return nil
}

// Patched returns t with patch applied. A changed project drops the
// joined project until the server returns it.
func Patched(t model.Todo, patch store.TodoPatch) model.Todo {
	if patch.Text != nil {
		t.Text = *patch.Text
	}
	if patch.Completed != nil {
		t.Completed = *patch.Completed
	}
	if patch.ClearDueDate {
		t.DueDate = nil
	} else if patch.DueDate != nil {
		t.DueDate = model.StringPtr(*patch.DueDate)
	}
	switch {
	case patch.ClearProject:
		t.ProjectID, t.Project = nil, nil
	case patch.ProjectID != nil && !t.InProject(*patch.ProjectID):
		t.ProjectID, t.Project = model.StringPtr(*patch.ProjectID), nil
	}
	return t
}

// Delete removes id immediately and restores the previous list if the
// remote delete fails.
func (l *List) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	snapshot := append([]model.Todo(nil), l.items...)
	if i := l.indexOf(id); i >= 0 {
		l.removeAt(i)
	}
	l.mu.Unlock()
	l.changed()

	if err := l.svc.Delete(ctx, id); err != nil {
		l.mu.Lock()
		l.items = snapshot
		l.mu.Unlock()
		l.changed()
		return l.fail("delete", id, err)
	}
	return nil
}

func (l *List) fail(op, id string, err error) error {
	err = fmt.Errorf("failed to %s todo %s: %w", op, id, err)
	logger.Error("Optimistic change rolled back", logger.F("op", op), logger.F("todo", id), logger.F("error", err))
	if l.notify != nil {
		l.notify(err)
	}
	return err
}
