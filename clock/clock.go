// Package clock provides the single process-wide monotonic timer that
// the placement, balancing, and watchdog logic read instead of calling
// time.Now directly, so that tests can drive them deterministically.
//
// Adapted from the teacher's common/stats/stats_time.go StatsTime
// pattern: a real implementation backed by the stdlib, and a fake that
// a test can advance by hand.
package clock

import "time"

// Ticker is the subset of *time.Ticker that Clock implementations hand
// out, so a fake clock can hand out a ticker whose channel it controls.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock is the global-timer capability described in spec.md's design
// notes: "one process-wide monotonic timer (seconds since start)".
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Elapsed returns the number of seconds since the clock was created.
	Elapsed() float64
	// Since returns time elapsed since t, in seconds.
	Since(t time.Time) float64
	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

type realClock struct {
	start time.Time
}

// New returns a Clock backed by the standard library, with its epoch
// set to the moment New is called.
func New() Clock {
	return &realClock{start: time.Now()}
}

func (c *realClock) Now() time.Time { return time.Now() }

func (c *realClock) Elapsed() float64 { return time.Since(c.start).Seconds() }

func (c *realClock) Since(t time.Time) float64 { return time.Since(t).Seconds() }

func (c *realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}
