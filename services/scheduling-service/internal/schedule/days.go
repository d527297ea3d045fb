package schedule

import (
	"strings"
	"time"
)

// WeekdaySet is a bit set indexed by time.Weekday.
type WeekdaySet uint8

const (
	AllDays  WeekdaySet = 1<<7 - 1
	Weekdays WeekdaySet = 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday
	Weekends WeekdaySet = 1<<time.Saturday | 1<<time.Sunday
)

func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<d) != 0
}

func (s WeekdaySet) With(d time.Weekday) WeekdaySet {
	return s | 1<<d
}

func (s WeekdaySet) String() string {
	var names []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			names = append(names, d.String()[:3])
		}
	}
	return strings.Join(names, ",")
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "weds": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

var groupNames = map[string]WeekdaySet{
	"daily":    AllDays,
	"everyday": AllDays,
	"all":      AllDays,
	"weekdays": Weekdays,
	"weekends": Weekends,
}

// ParseDays reads a free-form working day list: names or abbreviations separated by
// commas, semicolons, slashes or spaces, and ranges such as "Mon-Fri". Empty input means
// every day. Unknown tokens are skipped; ok is false when nothing at all was recognized.
func ParseDays(raw string) (set WeekdaySet, ok bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return AllDays, true
	}
	s = collapseRangeSpaces(s)

	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '|' || r == ' ' || r == '\t'
	})
	for _, tok := range tokens {
		tok = strings.TrimSuffix(tok, ".")
		if g, found := groupNames[tok]; found {
			set |= g
			continue
		}
		if from, to, isRange := strings.Cut(tok, "-"); isRange {
			a, okA := weekdayNames[from]
			b, okB := weekdayNames[to]
			if !okA || !okB {
				continue
			}
			for d := a; ; d = (d + 1) % 7 {
				set = set.With(d)
				if d == b {
					break
				}
			}
			continue
		}
		if d, found := weekdayNames[tok]; found {
			set = set.With(d)
		}
	}
	return set, set != 0
}

// collapseRangeSpaces turns "mon - fri" into "mon-fri".
func collapseRangeSpaces(s string) string {
	for strings.Contains(s, " -") || strings.Contains(s, "- ") {
		s = strings.ReplaceAll(s, " -", "-")
		s = strings.ReplaceAll(s, "- ", "-")
	}
	return s
}
