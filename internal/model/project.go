package model

import (
	"errors"
	"strings"
)

// Color is one of the fixed project palette entries.
type Color string

const (
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorPurple Color = "purple"
	ColorPink   Color = "pink"
	ColorIndigo Color = "indigo"
	ColorGray   Color = "gray"
)

// Palette lists every valid project color in display order.
var Palette = []Color{ColorRed, ColorBlue, ColorGreen, ColorYellow, ColorPurple, ColorPink, ColorIndigo, ColorGray}

// InboxName is the name of the auto-provisioned project.
const InboxName = "Inbox"

// ParseColor returns the palette entry for s. Unknown names fall back to gray.
func ParseColor(s string) (Color, bool) {
	c := Color(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range Palette {
		if p == c {
			return c, true
		}
	}
	return ColorGray, false
}

// Project represents a collection of todos
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      Color  `json:"color"`
	IsFavorite bool   `json:"is_favorite"`
	IsInbox    bool   `json:"is_inbox"`
	UserID     string `json:"user_id"`

	// Active todo count, filled by count queries only
	TodoCount int `json:"-"`
}

// Validate checks the fields a user can set.
func (p Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("project name must not be empty")
	}
	if _, ok := ParseColor(string(p.Color)); !ok {
		return errors.New("unknown project color: " + string(p.Color))
	}
	return nil
}

// DefaultInboxProject returns the Inbox project for a user
func DefaultInboxProject(userID string) Project {
	return Project{
		Name:    InboxName,
		Color:   ColorBlue,
		IsInbox: true,
		UserID:  userID,
	}
}

// ProjectGroups splits projects the way they are listed: the Inbox first,
// then favorites, then the rest.
type ProjectGroups struct {
	Inbox     *Project
	Favorites []Project
	Regular   []Project
}

// GroupProjects groups projects, keeping their order within each group.
func GroupProjects(projects []Project) ProjectGroups {
	var g ProjectGroups
	for i := range projects {
		p := projects[i]
		switch {
		case p.IsInbox:
			if g.Inbox == nil {
				g.Inbox = &p
			}
		case p.IsFavorite:
			g.Favorites = append(g.Favorites, p)
		default:
			g.Regular = append(g.Regular, p)
		}
	}
	return g
}
