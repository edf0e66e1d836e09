package clock

import "time"

// Clock abstracts the time package so timers can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) *Timer
	NewTicker(d time.Duration) *Ticker
}

type Ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t *Ticker) Stop() { t.stop() }

// Timer is returned by AfterFunc. Stop reports whether the call
// prevented f from running.
type Timer struct {
	stop func() bool
}

func (t *Timer) Stop() bool { return t.stop() }
