package schedule

import (
	"strings"
	"time"
)

const (
	DateLayout        = "2006-01-02"
	DisplayDateLayout = "Monday, January 2, 2006"
)

var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Mon, Jan 2, 2006",
	DisplayDateLayout,
	time.RFC3339,
}

// ParseDate returns the calendar day named by raw as midnight UTC. A timestamp keeps
// only its own calendar day, so no zone conversion can shift the date.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Day(t), true
		}
	}
	return time.Time{}, false
}

// Day truncates t to its calendar day at midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
