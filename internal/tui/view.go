package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/view"
)

const sidebarWidth = 24

// View renders the UI
func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	sidebar := m.renderSidebar()
	taskList := m.renderTaskList()
	statusBar := m.renderStatusBar()

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, taskList)

	switch m.mode {
	case ModeAddTask, ModeAddProject, ModeEditTask, ModeConfirmDelete:
		mainContent = lipgloss.Place(
			m.width, m.height-2,
			lipgloss.Center, lipgloss.Center,
			m.renderModal(),
			lipgloss.WithWhitespaceChars(" "),
		)
	case ModeHelp:
		mainContent = m.renderHelp()
	}

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, statusBar)
}

func (m *Model) renderSidebar() string {
	st := m.styles
	var b strings.Builder

	b.WriteString(st.Header.Render("Hasu") + "\n")
	b.WriteString(st.Help.Render(m.svc.now().Format("Mon Jan 2 15:04")) + "\n")
	if m.svc.account != "" {
		b.WriteString(st.Help.Render(truncate(m.svc.account, sidebarWidth-4)) + "\n")
	}
	b.WriteString(st.Divider.Render(repeat("─", sidebarWidth-4)) + "\n")

	for i, e := range m.entries {
		if e.heading != "" {
			b.WriteString("\n" + st.SidebarHeading.Render(e.heading) + "\n")
		}

		cursor := "  "
		style := st.SidebarItem
		if i == m.sideCursor {
			cursor = "❯ "
			if m.pane == PaneSidebar {
				style = st.SidebarActive
			}
		}

		label := e.label
		width := sidebarWidth - 10
		if e.project != nil {
			width -= 2
			if e.project.IsFavorite {
				label = "★ " + label
			}
		}
		count := ""
		if e.counted && e.count > 0 {
			count = fmt.Sprintf("%d", e.count)
		}
		line := fmt.Sprintf("%-*s %3s", width, truncate(label, width), count)
		if e.project != nil {
			line = st.projectDot(e.project.Color) + " " + line
		}
		line = cursor + line
		b.WriteString(style.Render(line) + "\n")
	}

	b.WriteString("\n" + st.Divider.Render(repeat("─", sidebarWidth-4)) + "\n")
	b.WriteString(st.Help.Render("p new project  f favorite"))

	return st.Sidebar.Width(sidebarWidth).Height(m.height - 2).Render(b.String())
}

func (m *Model) renderTaskList() string {
	st := m.styles
	width := m.width - sidebarWidth - 2
	now := m.svc.now()
	sel := m.list.Selector()
	sections := m.list.Sections()

	var b strings.Builder
	header := sel.Title()
	if sel.Kind != view.KindCompleted {
		header = fmt.Sprintf("%s (%d)", header, m.list.Len())
	}
	b.WriteString(st.Header.Render(header) + "\n")
	b.WriteString(st.Divider.Render(repeat("─", width-4)) + "\n")

	empty := true
	for _, s := range sections {
		if len(s.Todos) > 0 {
			empty = false
		}
	}
	if empty {
		b.WriteString("\n" + st.Help.Render("  "+emptyText(sel)))
		return st.TaskList.Width(width).Height(m.height - 2).Render(b.String())
	}

	row := 0
	for _, s := range sections {
		// the today view splits Overdue from Today
		if len(sections) > 1 || sel.Kind == view.KindToday {
			b.WriteString("\n" + st.Section.Render(s.Title) + "\n")
		} else {
			b.WriteString("\n")
		}
		for _, t := range s.Todos {
			b.WriteString(m.renderTodo(t, row, width, sel, now) + "\n")
			row++
		}
	}

	return st.TaskList.Width(width).Height(m.height - 2).Render(b.String())
}

func (m *Model) renderTodo(t model.Todo, row, width int, sel view.Selector, now time.Time) string {
	st := m.styles

	cursor := "  "
	style := st.TaskItem
	if row == m.taskCursor && m.pane == PaneTaskList {
		cursor = "❯ "
		style = st.TaskSelected
	}

	icon := "[ ]"
	if t.Completed {
		icon = "[x]"
		style = st.TaskDone
	}

	textWidth := width - 36
	if textWidth < 10 {
		textWidth = 10
	}
	line := style.Render(fmt.Sprintf("%s%s %-*s", cursor, icon, textWidth, truncate(t.Text, textWidth)))

	if due := dueLabel(t, now); due != "" && !t.Completed {
		if t.IsOverdue(now) {
			line += " " + st.Overdue.Render(due)
		} else {
			line += " " + st.Due.Render(due)
		}
	}
	// the project view already names its project
	if t.Project != nil && sel.Kind != view.KindProject {
		line += " " + st.projectDot(t.Project.Color) + st.Help.Render(" "+t.Project.Name)
	}
	return line
}

func emptyText(sel view.Selector) string {
	switch sel.Kind {
	case view.KindToday:
		return "Nothing due today. Press 'a' to add a todo."
	case view.KindUpcoming:
		return "Nothing scheduled."
	case view.KindCompleted:
		return "No completed todos yet."
	}
	return "No todos. Press 'a' to add one."
}

func (m *Model) renderStatusBar() string {
	st := m.styles
	help := "a:add  x:done  e:edit  d:del  tab:pane  r:reload  ?:help  q:quit"
	if m.message != "" {
		help = m.message
		if m.isError {
			help = st.StatusError.Render(m.message)
		}
	}
	return st.StatusBar.Width(m.width).Render(help)
}

func (m *Model) renderModal() string {
	st := m.styles
	var title, footer string

	switch m.mode {
	case ModeAddProject:
		title = "New Project"
		footer = "Enter:save  Esc:cancel"
	case ModeEditTask:
		title = "Edit Todo"
		footer = "#project moves it, today/tomorrow/fri reschedules it"
	case ModeConfirmDelete:
		text := ""
		if m.pending != nil {
			text = truncate(m.pending.Text, 40)
		}
		content := lipgloss.NewStyle().Bold(true).Render("Delete todo?") + "\n\n"
		content += fmt.Sprintf("\"%s\"", text) + "\n\n"
		content += st.Help.Render("y:delete  any other key:cancel")
		return st.Modal.Render(content)
	default:
		title = "Add Todo"
		if e := m.currentEntry(); e != nil && e.project != nil {
			title = "Add Todo to " + e.project.Name
		}
		footer = "#project picks a project, today/tomorrow/fri sets the due date"
	}

	content := lipgloss.NewStyle().Bold(true).Render(title) + "\n\n"
	content += m.input.View() + "\n\n"
	content += st.Help.Render(footer)

	return st.Modal.Render(content)
}

func (m *Model) renderHelp() string {
	st := m.styles
	var b strings.Builder
	b.WriteString(st.Header.Render("Keyboard shortcuts") + "\n\n")
	for _, k := range helpBindings() {
		h := k.Help()
		b.WriteString(fmt.Sprintf("  %-10s %s\n", h.Key, h.Desc))
	}
	b.WriteString("\n" + st.Help.Render("Press any key to return"))

	return lipgloss.Place(m.width, m.height-2, lipgloss.Center, lipgloss.Center, b.String())
}
