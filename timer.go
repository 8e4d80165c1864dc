package zloop

import (
	"sync/atomic"
	"time"
)

var numCreatedTimers atomic.Int64

// Timer is a scheduled callback owned by a TimerQueue.
type Timer struct {
	callback   func()
	expiration time.Time
	interval   time.Duration
	repeat     bool
	sequence   int64
}

func newTimer(cb func(), when time.Time, interval time.Duration) *Timer {
	return &Timer{
		callback:   cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		sequence:   numCreatedTimers.Add(1),
	}
}

func (t *Timer) run() {
	t.callback()
}

func (t *Timer) restart(now time.Time) {
	if t.repeat {
		t.expiration = now.Add(t.interval)
	} else {
		t.expiration = time.Time{}
	}
}

// NumCreatedTimers returns how many timers have been created in this process.
func NumCreatedTimers() int64 {
	return numCreatedTimers.Load()
}

// TimerID identifies a timer for cancellation.
type TimerID struct {
	timer    *Timer
	sequence int64
}

// Valid reports whether id refers to a scheduled timer.
func (id TimerID) Valid() bool {
	return id.timer != nil
}
