package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/quickadd"
	"github.com/aksanoble/hasu/internal/store"
	"github.com/aksanoble/hasu/internal/view"
)

// tickMsg is sent every minute so due labels follow the clock
type tickMsg time.Time

// tallyMsg carries fresh sidebar counts
type tallyMsg view.Tally

// listChangedMsg is sent whenever the visible list changed
type listChangedMsg struct{}

// listLoadedMsg is sent when a view finished loading
type listLoadedMsg struct {
	list    *view.List
	err     error
	liveErr error
}

type statusMsg string

type errMsg struct{ err error }

// Init loads the default view and the counts
func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.recountCmd(), m.loadCmd(m.list))
}

func tickCmd() tea.Cmd {
	return tea.Every(time.Minute, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) recountCmd() tea.Cmd {
	counts := m.counts
	ctx := m.ctx
	return func() tea.Msg {
		if err := counts.Recount(ctx); err != nil {
			return errMsg{fmt.Errorf("failed to load counts: %w", err)}
		}
		return nil
	}
}

// loadCmd moves the change streams onto list and fills it. The streams
// open first so nothing committed between the two is missed; a load that
// was overtaken by a newer one binds nothing.
func (m *Model) loadCmd(list *view.List) tea.Cmd {
	ctx, live, counts := m.ctx, m.svc.live, m.counts
	var gen uint64
	if live != nil {
		gen = live.Next()
	}
	return func() tea.Msg {
		msg := listLoadedMsg{list: list}
		if live != nil {
			msg.liveErr = live.Watch(ctx, gen, list, counts)
			if errors.Is(msg.liveErr, view.ErrSuperseded) {
				return msg
			}
		}
		msg.err = list.Load(ctx)
		return msg
	}
}

// open switches the task list to sel.
func (m *Model) open(sel view.Selector) tea.Cmd {
	if m.list != nil && m.list.Selector() == sel {
		return nil
	}
	m.list = m.newList(sel)
	m.taskCursor = 0
	logger.Debug("Opening view", logger.F("view", sel.String()))
	return m.loadCmd(m.list)
}

// afterChange refreshes what realtime would otherwise refresh. The
// widget follows through the list's change hook.
func (m *Model) afterChange() func() {
	ctx, live, list, counts := m.ctx, m.svc.live, m.list, m.counts
	return func() {
		if live != nil {
			return
		}
		if err := list.Load(ctx); err != nil {
			logger.Warn("Failed to reload list", logger.F("error", err))
		}
		if err := counts.Recount(ctx); err != nil {
			logger.Warn("Failed to refresh counts", logger.F("error", err))
		}
	}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.clampCursor()
		return m, tickCmd()

	case tallyMsg:
		m.tally = view.Tally(msg)
		m.rebuildSidebar()
		return m, nil

	case listChangedMsg:
		m.clampCursor()
		return m, nil

	case listLoadedMsg:
		if msg.list != m.list || errors.Is(msg.liveErr, view.ErrSuperseded) {
			// a newer load replaced this one
			return m, nil
		}
		m.clampCursor()
		if msg.err != nil {
			m.setError(fmt.Errorf("failed to load %s: %w", msg.list.Selector().Title(), msg.err))
		} else if msg.liveErr != nil {
			logger.Warn("Realtime unavailable", logger.F("error", msg.liveErr))
			m.setMessage("Live updates unavailable, press r to reload")
		}
		return m, nil

	case statusMsg:
		m.setMessage(string(msg))
		return m, nil

	case errMsg:
		m.setError(msg.err)
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeAddTask, ModeAddProject, ModeEditTask:
			return m.updateInput(msg)
		case ModeConfirmDelete:
			return m.updateConfirm(msg)
		case ModeHelp:
			m.mode = ModeNormal
			return m, nil
		}
		return m.handleNormalKeys(msg)
	}

	return m, nil
}

// handleNormalKeys handles key presses in normal mode
func (m *Model) handleNormalKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.shutdown()
		return m, tea.Quit

	case key.Matches(msg, keys.Tab):
		if m.pane == PaneSidebar {
			m.pane = PaneTaskList
		} else {
			m.pane = PaneSidebar
		}

	case key.Matches(msg, keys.Left):
		m.pane = PaneSidebar

	case key.Matches(msg, keys.Right):
		m.pane = PaneTaskList

	case key.Matches(msg, keys.Up):
		return m, m.handleUp()

	case key.Matches(msg, keys.Down):
		return m, m.handleDown()

	case key.Matches(msg, keys.Enter):
		if m.pane == PaneSidebar {
			m.pane = PaneTaskList
			return m, nil
		}
		return m, m.handleToggle()

	case key.Matches(msg, keys.Done):
		return m, m.handleToggle()

	case key.Matches(msg, keys.Edit):
		return m.startEdit()

	case key.Matches(msg, keys.Delete):
		return m, m.startDelete()

	case key.Matches(msg, keys.Add):
		return m.startInput(ModeAddTask, "Buy milk #errands tomorrow")

	case key.Matches(msg, keys.Project):
		return m.startInput(ModeAddProject, "Project name")

	case key.Matches(msg, keys.Favorite):
		return m, m.handleFavorite()

	case key.Matches(msg, keys.Refresh):
		m.setMessage("Reloading...")
		return m, tea.Batch(m.loadCmd(m.list), m.recountCmd())

	case key.Matches(msg, keys.Escape):
		m.message = ""

	case key.Matches(msg, keys.Help):
		m.mode = ModeHelp
	}

	return m, nil
}

func (m *Model) handleUp() tea.Cmd {
	if m.pane == PaneSidebar {
		if m.sideCursor > 0 {
			m.sideCursor--
			return m.open(m.entries[m.sideCursor].sel)
		}
		return nil
	}
	if m.taskCursor > 0 {
		m.taskCursor--
	}
	return nil
}

func (m *Model) handleDown() tea.Cmd {
	if m.pane == PaneSidebar {
		if m.sideCursor < len(m.entries)-1 {
			m.sideCursor++
			return m.open(m.entries[m.sideCursor].sel)
		}
		return nil
	}
	if m.taskCursor < len(m.rows())-1 {
		m.taskCursor++
	}
	return nil
}

func (m *Model) handleToggle() tea.Cmd {
	if m.pane != PaneTaskList {
		return nil
	}
	t := m.currentTodo()
	if t == nil {
		return nil
	}
	ctx, list, after := m.ctx, m.list, m.afterChange()
	id, text, done := t.ID, t.Text, !t.Completed
	return func() tea.Msg {
		// failures reach the status bar through the list notifier
		if err := list.Toggle(ctx, id); err != nil {
			return nil
		}
		after()
		if done {
			return statusMsg(fmt.Sprintf("Completed \"%s\"", truncate(text, 40)))
		}
		return statusMsg(fmt.Sprintf("Reopened \"%s\"", truncate(text, 40)))
	}
}

func (m *Model) startDelete() tea.Cmd {
	if m.pane != PaneTaskList {
		return nil
	}
	t := m.currentTodo()
	if t == nil {
		return nil
	}
	if !m.svc.confirm {
		return m.deleteTodo(*t)
	}
	m.pending = t
	m.mode = ModeConfirmDelete
	return nil
}

func (m *Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	t := m.pending
	m.pending = nil
	m.mode = ModeNormal
	if t == nil || !key.Matches(msg, keys.Confirm) {
		m.setMessage("Delete cancelled")
		return m, nil
	}
	return m, m.deleteTodo(*t)
}

func (m *Model) deleteTodo(t model.Todo) tea.Cmd {
	ctx, list, after := m.ctx, m.list, m.afterChange()
	id, text := t.ID, t.Text
	return func() tea.Msg {
		if err := list.Delete(ctx, id); err != nil {
			return nil
		}
		after()
		return statusMsg(fmt.Sprintf("Deleted \"%s\"", truncate(text, 40)))
	}
}

func (m *Model) handleFavorite() tea.Cmd {
	e := m.currentEntry()
	if m.pane != PaneSidebar || e == nil || e.project == nil {
		return nil
	}
	if e.project.IsInbox {
		m.setMessage("The Inbox is always pinned")
		return nil
	}
	ctx, svc, counts := m.ctx, m.svc, m.counts
	proj := *e.project
	fav := !proj.IsFavorite
	return func() tea.Msg {
		if _, err := svc.projects.Update(ctx, proj.ID, store.ProjectPatch{IsFavorite: &fav}); err != nil {
			return errMsg{fmt.Errorf("failed to update %s: %w", proj.Name, err)}
		}
		if err := counts.Recount(ctx); err != nil {
			logger.Warn("Failed to refresh counts", logger.F("error", err))
		}
		if fav {
			return statusMsg(fmt.Sprintf("Added %s to favorites", proj.Name))
		}
		return statusMsg(fmt.Sprintf("Removed %s from favorites", proj.Name))
	}
}

func (m *Model) startInput(mode Mode, placeholder string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.SetValue("")
	m.input.Placeholder = placeholder
	m.input.Focus()
	return m, textinput.Blink
}

func (m *Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape):
		m.mode = ModeNormal
		m.editing = nil
		m.input.Blur()
		return m, nil

	case msg.Type == tea.KeyEnter:
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.mode = ModeNormal
		m.input.Blur()
		if value == "" {
			m.editing = nil
			return m, nil
		}
		switch mode {
		case ModeAddProject:
			return m, m.createProject(value)
		case ModeEditTask:
			return m, m.editTodo(value)
		}
		return m, m.createTodo(value)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// addTarget picks the project of a quick-add: an explicit #tag, then the
// open project, then the Inbox.
func (m *Model) addTarget(parsed quickadd.Result) *model.Project {
	if parsed.Project != nil {
		return parsed.Project
	}
	if e := m.currentEntry(); e != nil && e.project != nil && e.sel == m.list.Selector() {
		return e.project
	}
	return m.inbox()
}

func (m *Model) createTodo(value string) tea.Cmd {
	now := m.svc.now()
	parsed := quickadd.Parse(value, m.tally.Projects, now)
	if parsed.Text == "" {
		m.setError(fmt.Errorf("todo text must not be empty"))
		return nil
	}

	in := store.NewTodo{Text: parsed.Text, DueDate: parsed.DueDate, UserID: m.svc.userID}
	if in.DueDate == nil && m.list.Selector().Kind == view.KindToday {
		in.DueDate = model.StringPtr(model.LocalDay(now, now.Location()))
	}
	target := m.addTarget(parsed)
	where := "No project"
	if target != nil {
		in.ProjectID = &target.ID
		where = target.Name
	}
	unmatched := parsed.ProjectQuery != "" && parsed.Project == nil

	ctx, svc, after := m.ctx, m.svc, m.afterChange()
	return func() tea.Msg {
		todo, err := svc.todos.Create(ctx, in)
		if err != nil {
			return errMsg{fmt.Errorf("failed to add todo: %w", err)}
		}
		after()
		line := fmt.Sprintf("Added to %s: \"%s\"", where, truncate(todo.Text, 40))
		if parsed.DateLabel != "" {
			line += " (" + parsed.DateLabel + ")"
		}
		if unmatched {
			line += fmt.Sprintf(", no project matches #%s", parsed.ProjectQuery)
		}
		return statusMsg(line)
	}
}

// startEdit opens the selected todo's text for editing.
func (m *Model) startEdit() (tea.Model, tea.Cmd) {
	if m.pane != PaneTaskList {
		return m, nil
	}
	t := m.currentTodo()
	if t == nil {
		return m, nil
	}
	m.editing = t
	_, cmd := m.startInput(ModeEditTask, "Todo text")
	m.input.SetValue(t.Text)
	m.input.CursorEnd()
	return m, cmd
}

// editPatch reads an edit entry the way quick-add does: the text, a
// #project to move to and a date to reschedule to.
func editPatch(t model.Todo, parsed quickadd.Result, loc *time.Location) store.TodoPatch {
	var patch store.TodoPatch
	if parsed.Text != t.Text {
		patch.Text = model.StringPtr(parsed.Text)
	}
	if parsed.DueDate != nil {
		if day, ok := t.DueDay(loc); !ok || day != *parsed.DueDate {
			patch.DueDate = parsed.DueDate
		}
	}
	if parsed.Project != nil && !t.InProject(parsed.Project.ID) {
		patch.ProjectID = &parsed.Project.ID
	}
	return patch
}

func (m *Model) editTodo(value string) tea.Cmd {
	t := m.editing
	m.editing = nil
	if t == nil {
		return nil
	}
	now := m.svc.now()
	parsed := quickadd.Parse(value, m.tally.Projects, now)
	if parsed.Text == "" {
		m.setError(fmt.Errorf("todo text must not be empty"))
		return nil
	}
	patch := editPatch(*t, parsed, now.Location())
	if patch.Empty() {
		m.setMessage("Nothing changed")
		return nil
	}
	unmatched := parsed.ProjectQuery != "" && parsed.Project == nil

	ctx, list, after := m.ctx, m.list, m.afterChange()
	id := t.ID
	return func() tea.Msg {
		if err := list.Edit(ctx, id, patch); err != nil {
			return nil
		}
		after()
		line := fmt.Sprintf("Updated \"%s\"", truncate(parsed.Text, 40))
		if parsed.Project != nil && patch.ProjectID != nil {
			line += " in " + parsed.Project.Name
		}
		if patch.DueDate != nil && parsed.DateLabel != "" {
			line += " (" + parsed.DateLabel + ")"
		}
		if unmatched {
			line += fmt.Sprintf(", no project matches #%s", parsed.ProjectQuery)
		}
		return statusMsg(line)
	}
}

func (m *Model) createProject(name string) tea.Cmd {
	ctx, svc, counts := m.ctx, m.svc, m.counts
	return func() tea.Msg {
		p, err := svc.projects.Create(ctx, model.Project{Name: name, UserID: svc.userID})
		if err != nil {
			return errMsg{fmt.Errorf("failed to create project: %w", err)}
		}
		if err := counts.Recount(ctx); err != nil {
			logger.Warn("Failed to refresh counts", logger.F("error", err))
		}
		return statusMsg(fmt.Sprintf("Created project %s", p.Name))
	}
}

// shutdown writes any pending widget snapshot and closes the change
// streams before the program exits.
func (m *Model) shutdown() {
	m.widget.Flush()
	if m.svc.live == nil {
		return
	}
	if err := m.svc.live.Close(); err != nil {
		logger.Warn("Failed to close change streams", logger.F("error", err))
	}
}
