package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jobd/jobd/internal/manifest"
)

// S6 — calendar match.
func TestNextCalendarOccurrenceThirtyMinutesAhead(t *testing.T) {
	ci := &manifest.CalendarInterval{
		Minute:  manifest.Fixed(30),
		Hour:    manifest.Fixed(3),
		Day:     manifest.Wild(),
		Weekday: manifest.Wild(),
		Month:   manifest.Wild(),
	}

	now := time.Date(2026, 1, 5, 3, 0, 0, 0, time.Local)
	next := NextCalendarOccurrence(ci, now)

	assert.Equal(t, 30*time.Minute, next.Sub(now))
}

func TestNextCalendarOccurrenceSkipsPassedTimeToday(t *testing.T) {
	ci := &manifest.CalendarInterval{
		Minute:  manifest.Fixed(30),
		Hour:    manifest.Fixed(3),
		Day:     manifest.Wild(),
		Weekday: manifest.Wild(),
		Month:   manifest.Wild(),
	}

	now := time.Date(2026, 1, 5, 3, 45, 0, 0, time.Local)
	next := NextCalendarOccurrence(ci, now)

	assert.Equal(t, 6, next.Day())
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestNextCalendarOccurrenceWeekdayWildcardFalse(t *testing.T) {
	ci := &manifest.CalendarInterval{
		Minute:  manifest.Fixed(0),
		Hour:    manifest.Fixed(0),
		Day:     manifest.Wild(),
		Weekday: manifest.Fixed(0), // Sunday
		Month:   manifest.Wild(),
	}

	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.Local) // Monday
	next := NextCalendarOccurrence(ci, now)

	assert.Equal(t, time.Sunday, next.Weekday())
}
