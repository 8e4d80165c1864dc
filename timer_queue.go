package zloop

import (
	"math"
	"time"

	"github.com/google/btree"
)

type timerEntry struct {
	when     time.Time
	sequence int64
	timer    *Timer
}

func timerEntryLess(a, b timerEntry) bool {
	if a.when.Equal(b.when) {
		return a.sequence < b.sequence
	}
	return a.when.Before(b.when)
}

// TimerQueue keeps the timers of one loop ordered by expiration and
// delivers them through a timerfd watched by the loop.
// Ordering is guaranteed, punctuality is not.
type TimerQueue struct {
	loop           *EventLoop
	timerfd        int
	timerfdChannel *Channel
	// ordered by (expiration, sequence)
	timers *btree.BTreeG[timerEntry]
	// same timers keyed by sequence
	activeTimers map[int64]*Timer

	callingExpiredTimers bool
	cancelingTimers      map[int64]*Timer
}

func newTimerQueue(loop *EventLoop) *TimerQueue {
	q := &TimerQueue{
		loop:            loop,
		timerfd:         createTimerfd(),
		timers:          btree.NewG[timerEntry](8, timerEntryLess),
		activeTimers:    make(map[int64]*Timer),
		cancelingTimers: make(map[int64]*Timer),
	}
	q.timerfdChannel = NewChannel(loop, q.timerfd)
	q.timerfdChannel.SetReadCallback(q.handleRead)
	// we are always reading the timerfd, we disarm it with timerfd_settime.
	q.timerfdChannel.EnableReading()
	return q
}

// AddTimer schedules cb at when, repeating every interval if interval > 0.
// Safe to call from any goroutine.
func (q *TimerQueue) AddTimer(cb func(), when time.Time, interval time.Duration) TimerID {
	timer := newTimer(cb, when, interval)
	q.loop.RunInLoop(func() { q.addTimerInLoop(timer) })
	return TimerID{timer: timer, sequence: timer.sequence}
}

// Cancel stops a timer. Safe to call from any goroutine, including from the timer's own callback.
func (q *TimerQueue) Cancel(id TimerID) {
	q.loop.RunInLoop(func() { q.cancelInLoop(id) })
}

// Len returns the number of scheduled timers. Loop goroutine only.
func (q *TimerQueue) Len() int {
	return q.timers.Len()
}

func (q *TimerQueue) close() {
	q.timerfdChannel.DisableAll()
	q.timerfdChannel.Remove()
	closeFd(q.timerfd)
	q.timers.Clear(false)
	clear(q.activeTimers)
}

func (q *TimerQueue) addTimerInLoop(timer *Timer) {
	q.loop.AssertInLoopThread()
	if q.insert(timer) {
		resetTimerfd(q.timerfd, timer.expiration)
	}
}

func (q *TimerQueue) cancelInLoop(id TimerID) {
	q.loop.AssertInLoopThread()
	if t, ok := q.activeTimers[id.sequence]; ok && t == id.timer {
		q.timers.Delete(timerEntry{when: t.expiration, sequence: t.sequence})
		delete(q.activeTimers, id.sequence)
	} else if q.callingExpiredTimers {
		q.cancelingTimers[id.sequence] = id.timer
	}
}

func (q *TimerQueue) handleRead(time.Time) {
	q.loop.AssertInLoopThread()
	now := time.Now()
	readTimerfd(q.timerfd, now)

	expired := q.getExpired(now)

	q.callingExpiredTimers = true
	clear(q.cancelingTimers)
	for _, t := range expired {
		t.run()
	}
	q.callingExpiredTimers = false

	q.reset(expired, now)
}

func (q *TimerQueue) getExpired(now time.Time) []*Timer {
	var expired []*Timer
	sentry := timerEntry{when: now, sequence: math.MaxInt64}
	q.timers.AscendLessThan(sentry, func(e timerEntry) bool {
		expired = append(expired, e.timer)
		return true
	})
	for _, t := range expired {
		q.timers.Delete(timerEntry{when: t.expiration, sequence: t.sequence})
		delete(q.activeTimers, t.sequence)
	}
	return expired
}

func (q *TimerQueue) reset(expired []*Timer, now time.Time) {
	for _, t := range expired {
		if _, canceled := q.cancelingTimers[t.sequence]; t.repeat && !canceled {
			t.restart(now)
			q.insert(t)
		}
	}
	if e, ok := q.timers.Min(); ok {
		resetTimerfd(q.timerfd, e.when)
	}
}

// insert reports whether timer became the earliest one.
func (q *TimerQueue) insert(timer *Timer) bool {
	earliestChanged := true
	if e, ok := q.timers.Min(); ok && !timer.expiration.Before(e.when) {
		earliestChanged = false
	}
	q.timers.ReplaceOrInsert(timerEntry{when: timer.expiration, sequence: timer.sequence, timer: timer})
	q.activeTimers[timer.sequence] = timer
	return earliestChanged
}
