package supervisor

import (
	"time"

	"github.com/jobd/jobd/internal/manifest"
)

// maxCalendarLookahead bounds the brute-force minute scan in
// NextCalendarOccurrence so a manifest with an unsatisfiable combination of
// fields (e.g. day=31 for a month that never has one) terminates instead of
// looping forever.
const maxCalendarLookahead = 366 * 24 * 60

// NextCalendarOccurrence returns the first local-time minute strictly after
// now that satisfies every non-wildcard field of ci. This is a brute-force
// minute scan rather than the offset arithmetic in
// _examples/original_source/src/calendar.c's schedule_calendar_job: Go's
// time package makes per-minute iteration cheap, and scanning forward
// naturally handles "today's slot already passed, so use tomorrow's" without
// a separate disqualification branch. Returns the zero Time if no occurrence
// is found within a year (an unsatisfiable manifest).
func NextCalendarOccurrence(ci *manifest.CalendarInterval, now time.Time) time.Time {
	t := now.Truncate(time.Minute)
	for i := 0; i < maxCalendarLookahead; i++ {
		t = t.Add(time.Minute)
		if calendarMatches(ci, t) {
			return t
		}
	}
	return time.Time{}
}

// calendarMatches reports whether t's local-time fields satisfy ci. A
// wildcard field matches any value; Go's time.Weekday already numbers Sunday
// as 0, matching spec.md §4.4's normalization.
func calendarMatches(ci *manifest.CalendarInterval, t time.Time) bool {
	if !ci.Month.Wildcard && ci.Month.Value != int(t.Month()) {
		return false
	}
	if !ci.Day.Wildcard && ci.Day.Value != t.Day() {
		return false
	}
	if !ci.Weekday.Wildcard && ci.Weekday.Value != int(t.Weekday()) {
		return false
	}
	if !ci.Hour.Wildcard && ci.Hour.Value != t.Hour() {
		return false
	}
	if !ci.Minute.Wildcard && ci.Minute.Value != t.Minute() {
		return false
	}
	return true
}
