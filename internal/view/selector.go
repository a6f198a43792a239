// Package view keeps the visible todo list and the sidebar counts in step
// with local mutations and the realtime change stream.
package view

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aksanoble/hasu/internal/model"
)

// Kind tags a Selector.
type Kind int

const (
	KindDefault Kind = iota
	KindProject
	KindToday
	KindUpcoming
	KindCompleted
)

// Selector picks which todos a list shows.
type Selector struct {
	Kind        Kind
	ProjectID   string // KindProject only
	ProjectName string
}

func Default() Selector   { return Selector{Kind: KindDefault} }
func Today() Selector     { return Selector{Kind: KindToday} }
func Upcoming() Selector  { return Selector{Kind: KindUpcoming} }
func Completed() Selector { return Selector{Kind: KindCompleted} }

// Project selects the active todos of one project.
func Project(id, name string) Selector {
	return Selector{Kind: KindProject, ProjectID: id, ProjectName: name}
}

// ParseSelector maps a bucket name to its selector. Project selectors need
// a lookup and are not handled here.
func ParseSelector(name string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "all", "active", "default":
		return Default(), nil
	case "today":
		return Today(), nil
	case "upcoming":
		return Upcoming(), nil
	case "completed", "done":
		return Completed(), nil
	}
	return Selector{}, fmt.Errorf("unknown view: %s", name)
}

// String returns the bucket name, or project:<name>.
func (s Selector) String() string {
	switch s.Kind {
	case KindProject:
		return "project:" + s.ProjectName
	case KindToday:
		return "today"
	case KindUpcoming:
		return "upcoming"
	case KindCompleted:
		return "completed"
	}
	return "all"
}

// Title is the heading shown above the list.
func (s Selector) Title() string {
	switch s.Kind {
	case KindProject:
		return s.ProjectName
	case KindToday:
		return "Today"
	case KindUpcoming:
		return "Upcoming"
	case KindCompleted:
		return "Completed"
	}
	return "All Tasks"
}

// Match reports whether t belongs in the view. Due dates are compared as
// calendar days in now's location.
func (s Selector) Match(t model.Todo, now time.Time) bool {
	switch s.Kind {
	case KindProject:
		return !t.Completed && t.InProject(s.ProjectID)
	case KindToday:
		return !t.Completed && t.IsDue(now)
	case KindUpcoming:
		if t.Completed {
			return false
		}
		day, ok := t.DueDay(now.Location())
		return ok && day > model.LocalDay(now, now.Location())
	case KindCompleted:
		return t.Completed
	}
	return !t.Completed
}

// Sort orders todos in place: by due day then creation time for today and
// upcoming, newest first otherwise.
func (s Selector) Sort(todos []model.Todo, now time.Time) {
	loc := now.Location()
	switch s.Kind {
	case KindToday, KindUpcoming:
		sort.SliceStable(todos, func(i, j int) bool {
			di, _ := todos[i].DueDay(loc)
			dj, _ := todos[j].DueDay(loc)
			if di != dj {
				return di < dj
			}
			return todos[i].CreatedAt.Before(todos[j].CreatedAt)
		})
	default:
		sort.SliceStable(todos, func(i, j int) bool {
			return todos[i].CreatedAt.After(todos[j].CreatedAt)
		})
	}
}

// Filter returns the sorted subset of todos matching s.
func Filter(s Selector, todos []model.Todo, now time.Time) []model.Todo {
	out := make([]model.Todo, 0, len(todos))
	for _, t := range todos {
		if s.Match(t, now) {
			out = append(out, t)
		}
	}
	s.Sort(out, now)
	return out
}

// Section is a titled run of todos.
type Section struct {
	Title string
	Todos []model.Todo
}

// Section titles of the today view.
const (
	SectionOverdue = "Overdue"
	SectionToday   = "Today"
)

// Sections splits the matching todos for display. The today view yields
// Overdue then Today, skipping empty ones; every other view yields one
// section.
func Sections(s Selector, todos []model.Todo, now time.Time) []Section {
	visible := Filter(s, todos, now)
	if s.Kind != KindToday {
		return []Section{{Title: s.Title(), Todos: visible}}
	}

	var overdue, today []model.Todo
	for _, t := range visible {
		if t.IsOverdue(now) {
			overdue = append(overdue, t)
		} else {
			today = append(today, t)
		}
	}
	var out []Section
	if len(overdue) > 0 {
		out = append(out, Section{Title: SectionOverdue, Todos: overdue})
	}
	if len(today) > 0 {
		out = append(out, Section{Title: SectionToday, Todos: today})
	}
	return out
}
