package tui

import (
	"math"
	"strings"
	"time"

	"github.com/aksanoble/hasu/internal/model"
)

// truncate shortens a string to max runes with ellipsis
func truncate(s string, max int) string {
	r := []rune(s)
	if max < 4 || len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// repeat creates a string by repeating s n times
func repeat(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}

// dueLabel renders a due day relative to now: Today, Tomorrow, a weekday
// within the week, else the date.
func dueLabel(t model.Todo, now time.Time) string {
	day, ok := t.DueDay(now.Location())
	if !ok {
		return ""
	}
	due, err := time.ParseInLocation(model.DayLayout, day, now.Location())
	if err != nil {
		return day
	}
	today := model.StartOfDay(now)
	switch days := int(math.Round(due.Sub(today).Hours() / 24)); {
	case days == 0:
		return "Today"
	case days == 1:
		return "Tomorrow"
	case days == -1:
		return "Yesterday"
	case days > 1 && days < 7:
		return due.Format("Mon")
	case due.Year() == now.Year():
		return due.Format("Jan 2")
	default:
		return due.Format("Jan 2 2006")
	}
}
