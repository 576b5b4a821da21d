package quota

import (
	"time"
)

// Clock abstracts wall-clock time so tests can simulate day rollover
// deterministically instead of waiting on real timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the stoppable handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// realClock delegates to the time package.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewRealClock returns a Clock backed by the system clock.
func NewRealClock() Clock { return realClock{} }

// utcDay truncates a time to the UTC day it falls on.
func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// untilNextUTCMidnight returns the duration from now to the next UTC
// midnight boundary.
func untilNextUTCMidnight(now time.Time) time.Duration {
	next := utcDay(now).Add(24 * time.Hour)
	return next.Sub(now.UTC())
}
