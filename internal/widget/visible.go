package widget

import (
	"sort"
	"time"

	"github.com/aksanoble/hasu/internal/model"
)

// Visible picks the rows the widget lists: incomplete items due today, or
// every incomplete item when none is due today. Newest first.
func Visible(items []Item, now time.Time) []Item {
	today := model.LocalDay(now, now.Location())

	var active, dueToday []Item
	for _, it := range items {
		if it.Completed {
			continue
		}
		active = append(active, it)
		if it.DueDate == nil {
			continue
		}
		if day, ok := model.CalendarDay(*it.DueDate, now.Location()); ok && day == today {
			dueToday = append(dueToday, it)
		}
	}

	out := dueToday
	if len(out) == 0 {
		out = active
	}
	sort.SliceStable(out, func(i, j int) bool {
		return createdAt(out[i]).After(createdAt(out[j]))
	})
	return out
}

func createdAt(it Item) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999Z07:00"} {
		if t, err := time.Parse(layout, it.CreatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}
