package model

import (
	"strings"
	"time"
)

// DayLayout is the calendar-day format used for due dates and day comparisons.
const DayLayout = "2006-01-02"

// Todo represents a single todo item
type Todo struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	DueDate   *string   `json:"due_date"`
	CreatedAt time.Time `json:"created_at"`
	ProjectID *string   `json:"project_id"`
	UserID    string    `json:"user_id"`

	Project *Project `json:"project,omitempty"`
}

// Active reports whether the todo counts toward open work.
func (t Todo) Active() bool {
	return !t.Completed
}

// InProject reports whether the todo is assigned to projectID.
func (t Todo) InProject(projectID string) bool {
	return t.ProjectID != nil && *t.ProjectID == projectID
}

// ProjectKey returns the project id or "" for unassigned todos.
func (t Todo) ProjectKey() string {
	if t.ProjectID == nil {
		return ""
	}
	return *t.ProjectID
}

// DueDay returns the due date as a local calendar day. A date-only value is
// already a calendar day and is returned as is; a timestamp is converted to
// loc first. ok is false when there is no due date or it cannot be parsed.
func (t Todo) DueDay(loc *time.Location) (string, bool) {
	if t.DueDate == nil {
		return "", false
	}
	return CalendarDay(*t.DueDate, loc)
}

// CalendarDay normalizes a date or timestamp string to YYYY-MM-DD in loc.
func CalendarDay(value string, loc *time.Location) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	if len(value) == len(DayLayout) {
		if _, err := time.Parse(DayLayout, value); err == nil {
			return value, true
		}
		return "", false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999Z07", "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return LocalDay(ts, loc), true
		}
	}
	return "", false
}

// LocalDay formats t as a calendar day in loc.
func LocalDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DayLayout)
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// IsDue returns true if the todo is due today or overdue
func (t Todo) IsDue(now time.Time) bool {
	day, ok := t.DueDay(now.Location())
	return ok && day <= LocalDay(now, now.Location())
}

// IsOverdue returns true if the todo is past its due day
func (t Todo) IsOverdue(now time.Time) bool {
	day, ok := t.DueDay(now.Location())
	return ok && day < LocalDay(now, now.Location())
}

// StringPtr returns a pointer to s, or nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
