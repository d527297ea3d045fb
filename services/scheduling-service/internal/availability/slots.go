package availability

import (
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/schedule"
)

// Generate returns every slot start t with s.Start <= t < s.End, stepping by s.Interval,
// in ascending order. It returns nil when the provider does not work on date's weekday.
func Generate(s schedule.Schedule, date time.Time) []schedule.TimeOfDay {
	if !s.WorksOn(date) {
		return nil
	}
	step := schedule.TimeOfDay(s.Interval / time.Minute)
	if step <= 0 {
		return nil
	}
	if s.End <= s.Start {
		return nil
	}

	slots := make([]schedule.TimeOfDay, 0, int((s.End-s.Start+step-1)/step))
	for t := s.Start; t < s.End; t += step {
		slots = append(slots, t)
	}
	return slots
}

// Filter removes occupied times from candidates, preserving order. Once the number of
// occupied times meets maxDaily nothing is available, whichever slots are still free.
func Filter(candidates, occupied []schedule.TimeOfDay, maxDaily int) []schedule.TimeOfDay {
	if maxDaily > 0 && len(occupied) >= maxDaily {
		return []schedule.TimeOfDay{}
	}
	taken := make(map[schedule.TimeOfDay]struct{}, len(occupied))
	for _, t := range occupied {
		taken[t] = struct{}{}
	}

	out := make([]schedule.TimeOfDay, 0, len(candidates))
	for _, t := range candidates {
		if _, busy := taken[t]; busy {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Contains reports whether t is one of slots.
func Contains(slots []schedule.TimeOfDay, t schedule.TimeOfDay) bool {
	for _, s := range slots {
		if s == t {
			return true
		}
	}
	return false
}

// Format renders slots in display notation.
func Format(slots []schedule.TimeOfDay) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.String())
	}
	return out
}
