// Package clock produces the timestamps carried on every wire message:
// nanoseconds elapsed since the most recent local midnight.
package clock

import "time"

type Clock interface {
	Now() uint64
}

// Local reads the wall clock in the given location (time.Local when nil).
type Local struct {
	Location *time.Location
}

func (c Local) Now() uint64 {
	return SinceMidnight(time.Now(), c.Location)
}

// SinceMidnight converts t to nanoseconds since midnight of its day in loc.
func SinceMidnight(t time.Time, loc *time.Location) uint64 {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return uint64(t.Sub(midnight).Nanoseconds())
}

// Func adapts a plain function, mostly for tests.
type Func func() uint64

func (f Func) Now() uint64 { return f() }

// Default is the process-wide clock.
var Default Clock = Local{}
