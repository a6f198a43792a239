package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/postgrest"
)

// Projects queries the projects table.
type Projects struct {
	b *Backend
}

// ProjectPatch holds the mutable project fields. Nil fields are left untouched.
type ProjectPatch struct {
	Name       *string      `json:"name,omitempty"`
	Color      *model.Color `json:"color,omitempty"`
	IsFavorite *bool        `json:"is_favorite,omitempty"`
}

// List returns all projects: Inbox first, then favorites, then by name.
func (p *Projects) List(ctx context.Context) ([]model.Project, error) {
	c, err := p.b.Client()
	if err != nil {
		return nil, err
	}
	var out []model.Project
	err = c.From(TableProjects).
		Select("*").
		Order("is_inbox", false).
		Order("is_favorite", false).
		Order("name", true).
		Execute(ctx, &out)
	return out, err
}

// EnsureInbox creates the Inbox if missing and returns its id.
func (p *Projects) EnsureInbox(ctx context.Context, userID string) (string, error) {
	c, err := p.b.Client()
	if err != nil {
		return "", err
	}
	var id string
	if err := c.RPC(ctx, "create_default_inbox_project", map[string]string{"user_uuid": userID}, &id); err != nil {
		return "", err
	}
	return id, nil
}

// ListWithCounts returns List with TodoCount set to the number of active todos.
func (p *Projects) ListWithCounts(ctx context.Context) ([]model.Project, error) {
	c, err := p.b.Client()
	if err != nil {
		return nil, err
	}
	var rows []struct {
		model.Project
		Todos []struct {
			ID        string `json:"id"`
			Completed bool   `json:"completed"`
		} `json:"todos"`
	}
	err = c.From(TableProjects).
		Select("*, todos(id, completed)").
		Order("is_inbox", false).
		Order("is_favorite", false).
		Order("name", true).
		Execute(ctx, &rows)
	if err != nil {
		return nil, err
	}

	out := make([]model.Project, 0, len(rows))
	for _, r := range rows {
		proj := r.Project
		for _, t := range r.Todos {
			if !t.Completed {
				proj.TodoCount++
			}
		}
		out = append(out, proj)
	}
	return out, nil
}

// Create inserts a project owned by the signed-in user.
func (p *Projects) Create(ctx context.Context, proj model.Project) (*model.Project, error) {
	c, err := p.b.Client()
	if err != nil {
		return nil, err
	}
	if proj.Color == "" {
		proj.Color = model.ColorBlue
	}
	if err := proj.Validate(); err != nil {
		return nil, err
	}
	if proj.UserID == "" {
		if proj.UserID, err = p.b.UserID(); err != nil {
			return nil, err
		}
	}

	row := map[string]interface{}{
		"name":        strings.TrimSpace(proj.Name),
		"color":       proj.Color,
		"is_favorite": proj.IsFavorite,
		"is_inbox":    proj.IsInbox,
		"user_id":     proj.UserID,
	}
	var out model.Project
	if err := insertOne(ctx, c.From(TableProjects).Select("*"), row, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update applies patch to the project id.
func (p *Projects) Update(ctx context.Context, id string, patch ProjectPatch) (*model.Project, error) {
	c, err := p.b.Client()
	if err != nil {
		return nil, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, fmt.Errorf("project name must not be empty")
	}
	if patch.Color != nil {
		if _, ok := model.ParseColor(string(*patch.Color)); !ok {
			return nil, fmt.Errorf("unknown project color: %s", *patch.Color)
		}
	}
	var out []model.Project
	if err := c.From(TableProjects).Select("*").Eq("id", id).Update(ctx, patch, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("project not found: %s", id)
	}
	return &out[0], nil
}

// Delete removes a project. The Inbox is never deleted.
func (p *Projects) Delete(ctx context.Context, proj model.Project) error {
	if proj.IsInbox {
		return ErrInboxProtected
	}
	c, err := p.b.Client()
	if err != nil {
		return err
	}
	return c.From(TableProjects).Eq("id", proj.ID).EqBool("is_inbox", false).Delete(ctx)
}

// insertOne posts row and decodes the single created representation.
func insertOne(ctx context.Context, q *postgrest.Query, row interface{}, out interface{}) error {
	var created []json.RawMessage
	if err := q.Insert(ctx, []interface{}{row}, &created); err != nil {
		return err
	}
	if len(created) != 1 {
		return fmt.Errorf("expected one created row, got %d", len(created))
	}
	return json.Unmarshal(created[0], out)
}
