package schedule

import (
	"strings"
	"time"
)

// TimeOfDay is a clinic-local wall clock time in minutes since midnight.
type TimeOfDay int

const (
	minutesPerDay = 24 * 60

	// DisplayLayout is the layout every slot is rendered with.
	DisplayLayout = "3:04 PM"
	clockLayout   = "15:04"
)

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// FromTime drops the date, seconds and location of t.
func FromTime(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < minutesPerDay
}

// On places t on the calendar day of date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, date.Location())
}

// Duration is the offset of t from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

// String renders t as "3:04 PM".
func (t TimeOfDay) String() string {
	return t.On(time.Time{}).Format(DisplayLayout)
}

// Clock renders t in 24-hour "15:04" notation.
func (t TimeOfDay) Clock() string {
	return t.On(time.Time{}).Format(clockLayout)
}

// clockStrategy is one accepted notation for a time of day.
type clockStrategy struct {
	name   string
	layout string
}

// Tried in order; the first match wins.
var clockStrategies = []clockStrategy{
	{name: "24h", layout: "15:04"},
	{name: "24h-seconds", layout: "15:04:05"},
	{name: "12h", layout: "3:04 PM"},
	{name: "12h-compact", layout: "3:04PM"},
	{name: "12h-seconds", layout: "3:04:05 PM"},
	{name: "12h-hour", layout: "3 PM"},
	{name: "12h-hour-compact", layout: "3PM"},
}

func (c clockStrategy) parse(s string) (TimeOfDay, bool) {
	// The meridiem layout only matches upper case.
	t, err := time.Parse(c.layout, strings.ToUpper(s))
	if err != nil {
		return 0, false
	}
	return FromTime(t), true
}

// ParseClock parses a time of day in any accepted notation. When the whole input does
// not parse and it carries a comma, only the first comma segment is tried again.
func ParseClock(raw string) (TimeOfDay, bool) {
	s := strings.TrimSpace(raw)
	if t, ok := parseClockStrict(s); ok {
		return t, true
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return parseClockStrict(strings.TrimSpace(s[:i]))
	}
	return 0, false
}

func parseClockStrict(s string) (TimeOfDay, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range clockStrategies {
		if t, ok := c.parse(s); ok {
			return t, true
		}
	}
	return 0, false
}
