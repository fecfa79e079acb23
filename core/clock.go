// Package core holds the simulation engine: the day-stepped clock, the
// deterministic random source, entity partitioning, worker-local shared
// state, the trigger engine, checkpointing, and the worker and runner that
// drive the logical processes.
package core

import (
	"fmt"
	"time"
)

// Clock owns the simulated day for one worker. Time advances in whole days
// only; every logical process observes the same day until the worker has
// stepped all of them and calls Advance.
type Clock struct {
	start time.Time
	end   time.Time
	day   int
}

// NewClock creates a clock at day zero of the simulated range.
func NewClock(start time.Time, end time.Time) *Clock {
	return NewClockAt(start, end, 0)
}

// NewClockAt creates a clock resumed at the given day offset.
func NewClockAt(start time.Time, end time.Time, day int) *Clock {
	return &Clock{
		start: truncateToDay(start),
		end:   truncateToDay(end),
		day:   day,
	}
}

// Day returns the current simulated day, counted from the start date.
func (c *Clock) Day() int {
	return c.day
}

// CurrentDate returns the current simulated date at midnight UTC.
func (c *Clock) CurrentDate() time.Time {
	return c.start.AddDate(0, 0, c.day)
}

// CurrentDateTime returns the simulated timestamp for the current day.
// Records created during a day are stamped mid-day so they sort between the
// day boundaries.
func (c *Clock) CurrentDateTime() time.Time {
	return c.CurrentDate().Add(12 * time.Hour)
}

// Advance moves the clock one day forward.
func (c *Clock) Advance() {
	c.day++
}

// Done reports whether the clock has reached the end of the simulated range.
func (c *Clock) Done() bool {
	return c.day >= c.DurationDays()
}

// DurationDays returns the total length of the simulated range in days.
func (c *Clock) DurationDays() int {
	return int(c.end.Sub(c.start).Hours() / 24)
}

// DayForDate converts a date to its day offset from the start date.
func (c *Clock) DayForDate(date time.Time) int {
	return int(truncateToDay(date).Sub(c.start).Hours() / 24)
}

// DateForDay converts a day offset to the corresponding date.
func (c *Clock) DateForDay(day int) time.Time {
	return c.start.AddDate(0, 0, day)
}

// FinancialYear returns the current financial year as "YYYY-YYYY". The
// Australian financial year runs July 1 to June 30.
func (c *Clock) FinancialYear() string {
	current := c.CurrentDate()
	if current.Month() >= time.July {
		return fmt.Sprintf("%d-%d", current.Year(), current.Year()+1)
	}

	return fmt.Sprintf("%d-%d", current.Year()-1, current.Year())
}

// Progress returns completion of the simulated range as a percentage.
func (c *Clock) Progress() float64 {
	duration := c.DurationDays()
	if duration == 0 {
		return 100.0
	}

	progress := float64(c.day) / float64(duration) * 100
	if progress > 100 {
		return 100.0
	}

	return progress
}

func truncateToDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
