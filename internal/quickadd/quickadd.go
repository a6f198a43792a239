// Package quickadd turns a one-line task entry into todo fields.
//
// "Call mom #family tomorrow" yields the text "Call mom", the first project
// whose name contains "family" and tomorrow's date.
package quickadd

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/aksanoble/hasu/internal/model"
)

// Result is a parsed entry.
type Result struct {
	Text         string
	Project      *model.Project
	ProjectQuery string  // the #token, kept when no project matched
	DueDate      *string // YYYY-MM-DD
	DateLabel    string  // what the due date was read from
}

var (
	tagRe      = regexp.MustCompile(`(^|\s)#(\w+)`)
	todayRe    = regexp.MustCompile(`\b(tod|today)\b`)
	tomorrowRe = regexp.MustCompile(`\b(tom|tomorrow)\b`)
	wordRe     = regexp.MustCompile(`\b[a-z]{3,9}\b`)
	keywordRe  = regexp.MustCompile(`(?i)\b(tod|today|tom|tomorrow|sunday|monday|tuesday|wednesday|thursday|friday|saturday|sun|mon|tue|tues|wed|thu|thur|thurs|fri|sat)\b`)
	spaceRe    = regexp.MustCompile(`\s+`)

	weekdays = map[string]time.Weekday{
		"sun": time.Sunday, "sunday": time.Sunday,
		"mon": time.Monday, "monday": time.Monday,
		"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
		"wed": time.Wednesday, "wednesday": time.Wednesday,
		"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
		"fri": time.Friday, "friday": time.Friday,
		"sat": time.Saturday, "saturday": time.Saturday,
	}

	natural = newNatural()
)

func newNatural() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// Parse reads project tags and a due date out of text. Dates are calendar
// days in now's location.
func Parse(text string, projects []model.Project, now time.Time) Result {
	var res Result

	if m := tagRe.FindStringSubmatch(text); m != nil {
		res.ProjectQuery = m[2]
		if p := MatchProject(m[2], projects); p != nil {
			res.Project = p
			res.ProjectQuery = ""
		}
	}
	rest := collapse(tagRe.ReplaceAllString(text, "$1"))

	if due, label, ok := keywordDate(rest, now); ok {
		res.DueDate = &due
		res.DateLabel = label
		res.Text = collapse(keywordRe.ReplaceAllString(rest, ""))
		return res
	}

	if r, err := natural.Parse(rest, now); err == nil && r != nil {
		due := model.LocalDay(r.Time, now.Location())
		res.DueDate = &due
		res.DateLabel = r.Text
		res.Text = collapse(rest[:r.Index] + rest[r.Index+len(r.Text):])
		return res
	}

	res.Text = rest
	return res
}

// MatchProject returns the first project whose name contains query,
// ignoring case.
func MatchProject(query string, projects []model.Project) *model.Project {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	for i := range projects {
		if strings.Contains(strings.ToLower(projects[i].Name), q) {
			p := projects[i]
			return &p
		}
	}
	return nil
}

func keywordDate(text string, now time.Time) (string, string, bool) {
	lower := strings.ToLower(text)
	today := model.StartOfDay(now)

	if todayRe.MatchString(lower) {
		return model.LocalDay(today, now.Location()), "Today", true
	}
	if tomorrowRe.MatchString(lower) {
		return model.LocalDay(today.AddDate(0, 0, 1), now.Location()), "Tomorrow", true
	}
	for _, tok := range wordRe.FindAllString(lower, -1) {
		wd, ok := weekdays[tok]
		if !ok {
			continue
		}
		return model.LocalDay(NextWeekday(today, wd), now.Location()), wd.String(), true
	}
	return "", "", false
}

// NextWeekday returns the next day after from falling on wd. The same
// weekday means a week later.
func NextWeekday(from time.Time, wd time.Weekday) time.Time {
	delta := (int(wd) - int(from.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return from.AddDate(0, 0, delta)
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
