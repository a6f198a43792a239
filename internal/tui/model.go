// Package tui is the interactive terminal front end.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/session"
	"github.com/aksanoble/hasu/internal/store"
	"github.com/aksanoble/hasu/internal/view"
)

// Pane represents which pane is focused
type Pane int

const (
	PaneSidebar Pane = iota
	PaneTaskList
)

// Mode represents the current UI mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeAddTask
	ModeAddProject
	ModeEditTask
	ModeConfirmDelete
	ModeHelp
)

// Deps are the signed-in services the TUI runs on.
type Deps struct {
	Backend *store.Backend
	Session *model.Session
	Theme   session.Theme

	// ConfirmDelete asks before deleting a todo.
	ConfirmDelete bool

	// Publish refreshes the widget snapshot after a change. Optional.
	Publish func(context.Context)
}

type todoService interface {
	view.TodoService
	Create(ctx context.Context, in store.NewTodo) (*model.Todo, error)
}

type projectService interface {
	Create(ctx context.Context, proj model.Project) (*model.Project, error)
	Update(ctx context.Context, id string, patch store.ProjectPatch) (*model.Project, error)
}

// services decouples the model from the remote backend
type services struct {
	todos    todoService
	projects projectService
	counts   view.CountSource
	live     *view.Live // nil without realtime
	userID   string
	account  string
	confirm  bool
	publish  func(context.Context)
	now      func() time.Time
}

// sidebarEntry is one selectable row of the sidebar
type sidebarEntry struct {
	sel     view.Selector
	label   string
	heading string // printed above the entry
	count   int
	counted bool
	project *model.Project
}

// Model is the main TUI model
type Model struct {
	ctx     context.Context
	svc     services
	program *tea.Program
	styles  styles

	counts *view.Counts
	list   *view.List
	tally  view.Tally
	widget *widgetPublisher

	entries []sidebarEntry

	// UI state
	width      int
	height     int
	pane       Pane
	mode       Mode
	sideCursor int
	taskCursor int

	input   textinput.Model
	pending *model.Todo // awaiting delete confirmation
	editing *model.Todo

	message string
	isError bool
}

// NewModel creates the TUI model for a signed-in backend.
func NewModel(ctx context.Context, d Deps) *Model {
	userID, _ := d.Backend.UserID()
	svc := services{
		todos:    d.Backend.Todos(),
		projects: d.Backend.Projects(),
		counts:   view.StoreCounts{Projects: d.Backend.Projects(), Todos: d.Backend.Todos()},
		userID:   userID,
		publish:  d.Publish,
		confirm:  d.ConfirmDelete,
	}
	if d.Session != nil {
		svc.account = d.Session.Email
		if svc.account == "" {
			svc.account = d.Session.Username
		}
	}
	if client, err := d.Backend.Client(); err == nil {
		svc.live = view.NewLive(view.RealtimeSubscriber(client.Realtime()), client.Schema(), userID)
	}
	return newModel(ctx, svc, d.Theme)
}

func newModel(ctx context.Context, svc services, theme session.Theme) *Model {
	logger.Info("Initializing TUI model")

	if svc.now == nil {
		svc.now = time.Now
	}

	ti := textinput.New()
	ti.Placeholder = "Buy milk #errands tomorrow"
	ti.CharLimit = 256
	ti.Width = 50

	m := &Model{
		ctx:    ctx,
		svc:    svc,
		styles: newStyles(theme),
		pane:   PaneSidebar,
		mode:   ModeNormal,
		input:  ti,
	}

	m.widget = newWidgetPublisher(ctx, svc.publish)
	m.counts = view.NewCounts(svc.counts, svc.userID)
	m.counts.OnChange = func(t view.Tally) { m.send(tallyMsg(t)) }
	if svc.live != nil {
		svc.live.OnLost = func(err error) {
			m.send(errMsg{fmt.Errorf("live updates interrupted, reconnecting: %w", err)})
		}
		svc.live.OnRestored = func() { m.send(statusMsg("Live updates restored")) }
	}
	m.list = m.newList(view.Default())
	m.rebuildSidebar()
	return m
}

// Attach lets background events reach the running program.
func (m *Model) Attach(p *tea.Program) {
	m.program = p
}

// send delivers msg from any goroutine without blocking the caller.
func (m *Model) send(msg tea.Msg) {
	if m.program == nil {
		return
	}
	go m.program.Send(msg)
}

func (m *Model) newList(sel view.Selector) *view.List {
	return view.NewList(m.svc.todos, sel,
		view.WithClock(m.svc.now),
		view.WithNotifier(func(err error) { m.send(errMsg{err}) }),
		view.WithOnChange(func([]model.Todo) {
			m.widget.Trigger()
			m.send(listChangedMsg{})
		}),
	)
}

// rebuildSidebar lays out the buckets, the Inbox, the favorites and then
// the other projects.
func (m *Model) rebuildSidebar() {
	entries := []sidebarEntry{
		{sel: view.Default(), label: "All"},
		{sel: view.Today(), label: "Today", count: m.tally.Today, counted: true},
		{sel: view.Upcoming(), label: "Upcoming", count: m.tally.Upcoming, counted: true},
		{sel: view.Completed(), label: "Completed"},
	}
	add := func(heading string, projects ...model.Project) {
		for i, p := range projects {
			e := sidebarEntry{
				sel:     view.Project(p.ID, p.Name),
				label:   p.Name,
				count:   p.TodoCount,
				counted: true,
				project: &p,
			}
			if i == 0 {
				e.heading = heading
			}
			entries = append(entries, e)
		}
	}
	groups := model.GroupProjects(m.tally.Projects)
	if groups.Inbox != nil {
		add("", *groups.Inbox)
	}
	add("Favorites", groups.Favorites...)
	add("Projects", groups.Regular...)

	// keep the cursor on the same view when projects move around
	current := m.list.Selector()
	m.entries = entries
	m.sideCursor = 0
	for i, e := range entries {
		if e.sel == current {
			m.sideCursor = i
			break
		}
	}
}

// rows flattens the visible sections in display order.
func (m *Model) rows() []model.Todo {
	var out []model.Todo
	for _, s := range m.list.Sections() {
		out = append(out, s.Todos...)
	}
	return out
}

func (m *Model) currentEntry() *sidebarEntry {
	if m.sideCursor < len(m.entries) {
		return &m.entries[m.sideCursor]
	}
	return nil
}

func (m *Model) currentTodo() *model.Todo {
	rows := m.rows()
	if m.taskCursor >= 0 && m.taskCursor < len(rows) {
		t := rows[m.taskCursor]
		return &t
	}
	return nil
}

func (m *Model) clampCursor() {
	n := len(m.rows())
	if m.taskCursor >= n {
		m.taskCursor = n - 1
	}
	if m.taskCursor < 0 {
		m.taskCursor = 0
	}
}

func (m *Model) inbox() *model.Project {
	for i := range m.tally.Projects {
		if m.tally.Projects[i].IsInbox {
			return &m.tally.Projects[i]
		}
	}
	return nil
}

func (m *Model) setMessage(msg string) {
	m.message = msg
	m.isError = false
}

func (m *Model) setError(err error) {
	m.message = err.Error()
	m.isError = true
}
