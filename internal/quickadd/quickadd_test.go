package quickadd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksanoble/hasu/internal/model"
)

// Tuesday
var now = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

var projects = []model.Project{
	{ID: "inbox", Name: "Inbox", IsInbox: true},
	{ID: "fam", Name: "Family Stuff"},
	{ID: "work", Name: "Work"},
}

func TestParseProjectTag(t *testing.T) {
	res := Parse("Call mom #family", projects, now)
	require.NotNil(t, res.Project)
	assert.Equal(t, "fam", res.Project.ID)
	assert.Equal(t, "Call mom", res.Text)
	assert.Nil(t, res.DueDate)
	assert.Empty(t, res.ProjectQuery)

	res = Parse("#nowhere  fix   bike", projects, now)
	assert.Nil(t, res.Project)
	assert.Equal(t, "nowhere", res.ProjectQuery)
	assert.Equal(t, "fix bike", res.Text)
}

func TestParseDateKeywords(t *testing.T) {
	cases := []struct {
		in, text, due, label string
	}{
		{"Pay rent today", "Pay rent", "2024-03-05", "Today"},
		{"pay rent tod", "pay rent", "2024-03-05", "Today"},
		{"Dentist Tomorrow", "Dentist", "2024-03-06", "Tomorrow"},
		{"standup tom #work", "standup", "2024-03-06", "Tomorrow"},
		{"Review fri", "Review", "2024-03-08", "Friday"},
		{"gym monday", "gym", "2024-03-11", "Monday"},
		// same weekday rolls over a week
		{"retro tues", "retro", "2024-03-12", "Tuesday"},
		{"plan thurs", "plan", "2024-03-07", "Thursday"},
	}
	for _, tc := range cases {
		res := Parse(tc.in, projects, now)
		require.NotNil(t, res.DueDate, tc.in)
		assert.Equal(t, tc.due, *res.DueDate, tc.in)
		assert.Equal(t, tc.text, res.Text, tc.in)
		assert.Equal(t, tc.label, res.DateLabel, tc.in)
	}
}

func TestParseWordsContainingKeywordsAreLeftAlone(t *testing.T) {
	res := Parse("Buy tomatoes", projects, now)
	assert.Nil(t, res.DueDate)
	assert.Equal(t, "Buy tomatoes", res.Text)
}

func TestParseNaturalLanguageFallback(t *testing.T) {
	res := Parse("Renew passport in 3 days", projects, now)
	require.NotNil(t, res.DueDate)
	assert.Equal(t, "2024-03-08", *res.DueDate)
	assert.Equal(t, "Renew passport", res.Text)
}

func TestParseUsesLocalDay(t *testing.T) {
	// 23:30 in New York is already tomorrow in UTC
	ny := time.FixedZone("EST", -5*3600)
	late := time.Date(2024, 3, 5, 23, 30, 0, 0, ny)
	res := Parse("ship it today", nil, late)
	require.NotNil(t, res.DueDate)
	assert.Equal(t, "2024-03-05", *res.DueDate)
}

func TestNextWeekday(t *testing.T) {
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), NextWeekday(model.StartOfDay(now), time.Sunday))
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), NextWeekday(model.StartOfDay(now), time.Tuesday))
}

func TestMatchProject(t *testing.T) {
	assert.Nil(t, MatchProject("", projects))
	p := MatchProject("WOR", projects)
	require.NotNil(t, p)
	assert.Equal(t, "work", p.ID)
}
