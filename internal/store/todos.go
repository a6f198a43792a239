package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aksanoble/hasu/internal/model"
)

const (
	todoWithProject = "*, project:projects(*)"
	searchLimit     = 100
)

// Todos queries the todos table.
type Todos struct {
	b *Backend
}

// NewTodo is the user-provided part of a todo.
type NewTodo struct {
	ID        string // generated when empty
	Text      string
	DueDate   *string
	ProjectID *string
	UserID    string // the signed-in user when empty
}

// TodoPatch holds the mutable todo fields. Nil pointers are left untouched;
// the Clear flags set the column to null.
type TodoPatch struct {
	Text         *string
	Completed    *bool
	DueDate      *string
	ClearDueDate bool
	ProjectID    *string
	ClearProject bool
}

// MarshalJSON emits only the fields being changed.
func (p TodoPatch) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	if p.Text != nil {
		m["text"] = *p.Text
	}
	if p.Completed != nil {
		m["completed"] = *p.Completed
	}
	if p.ClearDueDate {
		m["due_date"] = nil
	} else if p.DueDate != nil {
		m["due_date"] = *p.DueDate
	}
	if p.ClearProject {
		m["project_id"] = nil
	} else if p.ProjectID != nil {
		m["project_id"] = *p.ProjectID
	}
	return json.Marshal(m)
}

// Empty reports whether the patch changes nothing.
func (p TodoPatch) Empty() bool {
	return p.Text == nil && p.Completed == nil && p.DueDate == nil && !p.ClearDueDate && p.ProjectID == nil && !p.ClearProject
}

// SetCompleted returns a patch that only sets completed.
func SetCompleted(completed bool) TodoPatch {
	return TodoPatch{Completed: &completed}
}

// List returns all todos with their project, newest first.
func (t *Todos) List(ctx context.Context) ([]model.Todo, error) {
	c, err := t.b.Client()
	if err != nil {
		return nil, err
	}
	var out []model.Todo
	err = c.From(TableTodos).Select(todoWithProject).Order("created_at", false).Execute(ctx, &out)
	return out, err
}

// ListByProject returns the todos of one project, newest first.
func (t *Todos) ListByProject(ctx context.Context, projectID string) ([]model.Todo, error) {
	c, err := t.b.Client()
	if err != nil {
		return nil, err
	}
	var out []model.Todo
	err = c.From(TableTodos).
		Select(todoWithProject).
		Eq("project_id", projectID).
		Order("created_at", false).
		Execute(ctx, &out)
	return out, err
}

// Get returns one todo by id.
func (t *Todos) Get(ctx context.Context, id string) (*model.Todo, error) {
	c, err := t.b.Client()
	if err != nil {
		return nil, err
	}
	var out []model.Todo
	if err := c.From(TableTodos).Select(todoWithProject).Eq("id", id).Limit(1).Execute(ctx, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("todo not found: %s", id)
	}
	return &out[0], nil
}

// Create inserts a todo and returns it with its project.
func (t *Todos) Create(ctx context.Context, in NewTodo) (*model.Todo, error) {
	c, err := t.b.Client()
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("todo text must not be empty")
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.UserID == "" {
		if in.UserID, err = t.b.UserID(); err != nil {
			return nil, err
		}
	}

	row := map[string]interface{}{
		"id":         in.ID,
		"text":       text,
		"project_id": in.ProjectID,
		"due_date":   in.DueDate,
		"user_id":    in.UserID,
	}
	var out model.Todo
	if err := insertOne(ctx, c.From(TableTodos).Select(todoWithProject), row, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update applies patch to the todo id and returns the updated row.
func (t *Todos) Update(ctx context.Context, id string, patch TodoPatch) (*model.Todo, error) {
	c, err := t.b.Client()
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, fmt.Errorf("empty update for todo %s", id)
	}
	var out []model.Todo
	if err := c.From(TableTodos).Select(todoWithProject).Eq("id", id).Update(ctx, patch, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("todo not found: %s", id)
	}
	return &out[0], nil
}

// Move reassigns a todo. A nil projectID unassigns it.
func (t *Todos) Move(ctx context.Context, id string, projectID *string) (*model.Todo, error) {
	if projectID == nil {
		return t.Update(ctx, id, TodoPatch{ClearProject: true})
	}
	return t.Update(ctx, id, TodoPatch{ProjectID: projectID})
}

// Delete removes a todo.
func (t *Todos) Delete(ctx context.Context, id string) error {
	c, err := t.b.Client()
	if err != nil {
		return err
	}
	return c.From(TableTodos).Eq("id", id).Delete(ctx)
}

// Search matches todo text case-insensitively, newest first, at most 100 rows.
func (t *Todos) Search(ctx context.Context, userID, query string) ([]model.Todo, error) {
	c, err := t.b.Client()
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	var out []model.Todo
	err = c.From(TableTodos).
		Select(todoWithProject).
		Eq("user_id", userID).
		ILike("text", "%"+query+"%").
		Order("created_at", false).
		Limit(searchLimit).
		Execute(ctx, &out)
	return out, err
}

func tomorrow(now time.Time) string {
	return model.LocalDay(model.StartOfDay(now).AddDate(0, 0, 1), now.Location())
}

// CountToday counts active todos due today or earlier, in now's zone.
func (t *Todos) CountToday(ctx context.Context, userID string, now time.Time) (int, error) {
	c, err := t.b.Client()
	if err != nil {
		return 0, err
	}
	return c.From(TableTodos).
		Eq("user_id", userID).
		EqBool("completed", false).
		NotIs("due_date", "null").
		Lt("due_date", tomorrow(now)).
		Count(ctx)
}

// CountUpcoming counts active todos due after today, in now's zone.
func (t *Todos) CountUpcoming(ctx context.Context, userID string, now time.Time) (int, error) {
	c, err := t.b.Client()
	if err != nil {
		return 0, err
	}
	return c.From(TableTodos).
		Eq("user_id", userID).
		EqBool("completed", false).
		Gte("due_date", tomorrow(now)).
		Count(ctx)
}

// ListActive returns the incomplete todos the widget mirrors, newest first.
func (t *Todos) ListActive(ctx context.Context, userID string) ([]model.Todo, error) {
	c, err := t.b.Client()
	if err != nil {
		return nil, err
	}
	var out []model.Todo
	err = c.From(TableTodos).
		Select("id, text, completed, created_at, due_date, project_id, user_id").
		Eq("user_id", userID).
		EqBool("completed", false).
		Order("created_at", false).
		Execute(ctx, &out)
	return out, err
}
