package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied when a provider's configuration is missing or unreadable.
const (
	DefaultStart           = TimeOfDay(9 * 60)
	DefaultEnd             = TimeOfDay(17 * 60)
	DefaultIntervalMinutes = 30
	DefaultMaxDaily        = 10
)

// Fallback names a permissive default the parser substituted for unusable input.
// Callers log every fallback at warning level.
type Fallback string

const (
	FallbackDays   Fallback = "working_days_unrecognized"
	FallbackStart  Fallback = "start_time_unparsed"
	FallbackEnd    Fallback = "end_time_unparsed"
	FallbackWindow Fallback = "working_window_invalid"
)

// Schedule is the normalized weekly availability of one provider.
type Schedule struct {
	Days      WeekdaySet
	Start     TimeOfDay
	End       TimeOfDay
	Interval  time.Duration
	Fallbacks []Fallback
}

// WorksOn reports whether date falls on one of the working weekdays.
func (s Schedule) WorksOn(date time.Time) bool {
	return s.Days.Has(date.Weekday())
}

// ParseError reports working hours that are not a "<start>-<end>" pair.
type ParseError struct {
	Hours string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("working hours %q: expected \"<start>-<end>\"", e.Hours)
}

// Parse normalizes a provider's free-form working days and hours. A non-positive
// interval means the default interval.
func Parse(rawDays, rawHours string, intervalMinutes int) (Schedule, error) {
	start, end, fallbacks, err := ParseHours(rawHours)
	if err != nil {
		return Schedule{}, err
	}

	days, ok := ParseDays(rawDays)
	if !ok {
		days = AllDays
		fallbacks = append(fallbacks, FallbackDays)
	}

	if intervalMinutes <= 0 {
		intervalMinutes = DefaultIntervalMinutes
	}

	return Schedule{
		Days:      days,
		Start:     start,
		End:       end,
		Interval:  time.Duration(intervalMinutes) * time.Minute,
		Fallbacks: fallbacks,
	}, nil
}

// ParseHours reads "<start>-<end>" where each side is in any clock notation ParseClock
// accepts. Only the first comma segment counts. A side that does not parse takes its
// default; a window that ends at or before it starts becomes the whole default window.
func ParseHours(raw string) (start, end TimeOfDay, fallbacks []Fallback, err error) {
	segment := raw
	if i := strings.IndexByte(segment, ','); i >= 0 {
		segment = segment[:i]
	}
	parts := strings.Split(segment, "-")
	if len(parts) != 2 {
		return 0, 0, nil, &ParseError{Hours: raw}
	}

	start, ok := parseClockStrict(strings.TrimSpace(parts[0]))
	if !ok {
		start = DefaultStart
		fallbacks = append(fallbacks, FallbackStart)
	}
	end, ok = parseClockStrict(strings.TrimSpace(parts[1]))
	if !ok {
		end = DefaultEnd
		fallbacks = append(fallbacks, FallbackEnd)
	}

	if end <= start {
		start, end = DefaultStart, DefaultEnd
		fallbacks = append(fallbacks, FallbackWindow)
	}
	return start, end, fallbacks, nil
}
