// Package sched holds the parts of the scheduler the consistency check relies
// on: the day counter used for review due dates and the bounds on due values.
package sched

import "time"

const (
	// MaxNewDue is the largest insertion position a new card may hold.
	MaxNewDue = 1_000_000
	// MaxReviewDue is the largest day number considered sane for a review.
	MaxReviewDue = 100_000
	// DefaultRolloverHour is the local hour at which a new scheduler day starts.
	DefaultRolloverHour = 4
)

// Timing describes the current scheduler day.
type Timing struct {
	DaysElapsed int       // days since the collection was created
	NextDayAt   time.Time // start of the next scheduler day
}

// Clock computes scheduler days relative to the collection creation time.
type Clock struct {
	Created      time.Time
	RolloverHour int
	Now          func() time.Time
}

// NewClock returns a clock for a collection created at the given unix time.
func NewClock(createdSecs int64, rolloverHour int) *Clock {
	if rolloverHour < 0 || rolloverHour > 23 {
		rolloverHour = DefaultRolloverHour
	}
	return &Clock{
		Created:      time.Unix(createdSecs, 0),
		RolloverHour: rolloverHour,
		Now:          time.Now,
	}
}

// Timing calculates the current scheduler day.
func (c *Clock) Timing() Timing {
	now := c.Now()
	today := c.dayStart(now)
	created := c.dayStart(c.Created.In(now.Location()))

	return Timing{
		DaysElapsed: calendarDays(created, today),
		NextDayAt:   today.AddDate(0, 0, 1),
	}
}

// Today returns the number of scheduler days since the collection was created.
func (c *Clock) Today() int {
	return c.Timing().DaysElapsed
}

// dayStart returns the rollover instant that began the scheduler day
// containing t.
func (c *Clock) dayStart(t time.Time) time.Time {
	start := time.Date(t.Year(), t.Month(), t.Day(), c.RolloverHour, 0, 0, 0, t.Location())
	if t.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// calendarDays counts whole days between two day starts, ignoring DST shifts.
func calendarDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
