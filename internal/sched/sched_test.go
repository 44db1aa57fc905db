package sched

import (
	"testing"
	"time"
)

func fixedClock(created, now time.Time, rollover int) *Clock {
	return &Clock{
		Created:      created,
		RolloverHour: rollover,
		Now:          func() time.Time { return now },
	}
}

func TestToday(t *testing.T) {
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		now      time.Time
		expected int
	}{
		{name: "Same day", now: time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC), expected: 0},
		{name: "Before rollover counts as previous day", now: time.Date(2024, 1, 2, 3, 59, 0, 0, time.UTC), expected: 0},
		{name: "After rollover", now: time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC), expected: 1},
		{name: "Ten days later", now: time.Date(2024, 1, 11, 12, 0, 0, 0, time.UTC), expected: 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock := fixedClock(created, tc.now, 4)
			if got := clock.Today(); got != tc.expected {
				t.Errorf("Expected today to be %d, but got %d", tc.expected, got)
			}
		})
	}
}

func TestCreatedBeforeRollover(t *testing.T) {
	// Created at 02:00 belongs to the scheduler day that began the previous morning.
	created := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)

	if got := fixedClock(created, now, 4).Today(); got != 1 {
		t.Errorf("Expected today to be 1, but got %d", got)
	}
}

func TestNextDayAt(t *testing.T) {
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 5, 12, 30, 0, 0, time.UTC)

	timing := fixedClock(created, now, 4).Timing()
	expected := time.Date(2024, 1, 6, 4, 0, 0, 0, time.UTC)
	if !timing.NextDayAt.Equal(expected) {
		t.Errorf("Expected next day at %v, but got %v", expected, timing.NextDayAt)
	}
}

func TestNewClockClampsRollover(t *testing.T) {
	clock := NewClock(0, 42)
	if clock.RolloverHour != DefaultRolloverHour {
		t.Errorf("Expected rollover hour %d, but got %d", DefaultRolloverHour, clock.RolloverHour)
	}
}
