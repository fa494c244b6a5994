package clock

import "time"

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock that always returns a fixed time.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// Today returns midnight of the current date in the clock's location.
func Today(c Clock) time.Time {
	return dateOf(c.Now())
}

// DaysBetween counts the calendar-day boundaries crossed going from start to
// end. Both instants are reduced to their date in end's location, so a DST
// shift or a leap day never changes the count. The result is negative when
// start is on a later date than end.
func DaysBetween(start, end time.Time) int {
	s := start.In(end.Location())
	from := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
