package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all key bindings
type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Left     key.Binding
	Right    key.Binding
	Tab      key.Binding
	Enter    key.Binding
	Add      key.Binding
	Done     key.Binding
	Edit     key.Binding
	Delete   key.Binding
	Project  key.Binding
	Favorite key.Binding
	Help     key.Binding
	Quit     key.Binding
	Escape   key.Binding
	Refresh  key.Binding
	Confirm  key.Binding
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Left:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "sidebar")),
	Right:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "todos")),
	Tab:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
	Enter:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open/toggle")),
	Add:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "quick add")),
	Done:     key.NewBinding(key.WithKeys("x", " "), key.WithHelp("x", "toggle done")),
	Edit:     key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	Delete:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Project:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "new project")),
	Favorite: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "favorite project")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Escape:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	Refresh:  key.NewBinding(key.WithKeys("R", "r"), key.WithHelp("r", "reload")),
	Confirm:  key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "confirm")),
}

// helpBindings lists the bindings shown on the help screen, in order
func helpBindings() []key.Binding {
	return []key.Binding{
		keys.Up, keys.Down, keys.Left, keys.Right, keys.Tab, keys.Enter,
		keys.Add, keys.Done, keys.Edit, keys.Delete, keys.Project, keys.Favorite,
		keys.Refresh, keys.Help, keys.Quit,
	}
}
