package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/session"
)

// palette holds the colors of one theme
type palette struct {
	Primary   lipgloss.Color
	Surface   lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color
	Border    lipgloss.Color
	Overdue   lipgloss.Color
	Done      lipgloss.Color
	Error     lipgloss.Color
}

var (
	darkPalette = palette{
		Primary:   lipgloss.Color("#4ECDC4"),
		Surface:   lipgloss.Color("#16213e"),
		Text:      lipgloss.Color("#FFFFFF"),
		TextMuted: lipgloss.Color("#888888"),
		Border:    lipgloss.Color("#333333"),
		Overdue:   lipgloss.Color("#FF6B6B"),
		Done:      lipgloss.Color("#95E1A3"),
		Error:     lipgloss.Color("#FF6B6B"),
	}
	lightPalette = palette{
		Primary:   lipgloss.Color("#0F766E"),
		Surface:   lipgloss.Color("#E2E8F0"),
		Text:      lipgloss.Color("#111827"),
		TextMuted: lipgloss.Color("#6B7280"),
		Border:    lipgloss.Color("#D1D5DB"),
		Overdue:   lipgloss.Color("#DC2626"),
		Done:      lipgloss.Color("#15803D"),
		Error:     lipgloss.Color("#B91C1C"),
	}
)

// projectColors maps the project palette to terminal colors
var projectColors = map[model.Color]lipgloss.Color{
	model.ColorRed:    lipgloss.Color("#EF4444"),
	model.ColorBlue:   lipgloss.Color("#3B82F6"),
	model.ColorGreen:  lipgloss.Color("#22C55E"),
	model.ColorYellow: lipgloss.Color("#EAB308"),
	model.ColorPurple: lipgloss.Color("#A855F7"),
	model.ColorPink:   lipgloss.Color("#EC4899"),
	model.ColorIndigo: lipgloss.Color("#6366F1"),
	model.ColorGray:   lipgloss.Color("#6B7280"),
}

// Styles
type styles struct {
	colors palette

	Header         lipgloss.Style
	Sidebar        lipgloss.Style
	SidebarItem    lipgloss.Style
	SidebarActive  lipgloss.Style
	SidebarHeading lipgloss.Style
	TaskList       lipgloss.Style
	Section        lipgloss.Style
	TaskItem       lipgloss.Style
	TaskSelected   lipgloss.Style
	TaskDone       lipgloss.Style
	Due            lipgloss.Style
	Overdue        lipgloss.Style
	StatusBar      lipgloss.Style
	StatusError    lipgloss.Style
	Modal          lipgloss.Style
	Help           lipgloss.Style
	Divider        lipgloss.Style
}

func newStyles(theme session.Theme) styles {
	c := lightPalette
	if theme == session.ThemeDark {
		c = darkPalette
	}

	return styles{
		colors: c,

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(c.Primary),

		Sidebar: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(c.Border).
			Padding(1, 1),

		SidebarItem: lipgloss.NewStyle().
			Foreground(c.Text).
			Padding(0, 1),

		SidebarActive: lipgloss.NewStyle().
			Foreground(c.Text).
			Background(c.Surface).
			Bold(true).
			Padding(0, 1),

		SidebarHeading: lipgloss.NewStyle().
			Foreground(c.TextMuted).
			Bold(true),

		TaskList: lipgloss.NewStyle().
			Padding(1, 2),

		Section: lipgloss.NewStyle().
			Foreground(c.Primary).
			Bold(true),

		TaskItem: lipgloss.NewStyle().
			Foreground(c.Text).
			Padding(0, 1),

		TaskSelected: lipgloss.NewStyle().
			Foreground(c.Text).
			Background(c.Surface).
			Bold(true).
			Padding(0, 1),

		TaskDone: lipgloss.NewStyle().
			Foreground(c.TextMuted).
			Strikethrough(true).
			Padding(0, 1),

		Due:     lipgloss.NewStyle().Foreground(c.TextMuted),
		Overdue: lipgloss.NewStyle().Foreground(c.Overdue).Bold(true),

		StatusBar: lipgloss.NewStyle().
			Foreground(c.TextMuted).
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(c.Border),

		StatusError: lipgloss.NewStyle().
			Foreground(c.Error).
			Bold(true),

		Modal: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(c.Primary).
			Padding(1, 2),

		Help:    lipgloss.NewStyle().Foreground(c.TextMuted),
		Divider: lipgloss.NewStyle().Foreground(c.Border),
	}
}

// projectDot renders the colored marker of a project
func (s styles) projectDot(c model.Color) string {
	col, ok := projectColors[c]
	if !ok {
		col = projectColors[model.ColorGray]
	}
	return lipgloss.NewStyle().Foreground(col).Render("●")
}
