package zloop

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/zhihanii/zlog"
)

// EventLoop is a reactor bound to the goroutine and OS thread that created it.
// At most one EventLoop exists per thread.
//
// Loop, Close and the channel methods must run on the owning goroutine.
// Quit, RunInLoop, QueueInLoop and the timer methods are safe from anywhere.
type EventLoop struct {
	looping                atomic.Bool
	quit                   atomic.Bool
	eventHandling          bool
	callingPendingFunctors atomic.Bool
	iteration              int64
	tid                    int
	pollTimeoutMs          int

	pollReturnTime       time.Time
	poller               Poller
	timerQueue           *TimerQueue
	wakeupFd             int
	wakeupChannel        *Channel
	activeChannels       []*Channel
	currentActiveChannel *Channel

	mu      sync.Mutex
	pending *queue.Queue // guarded by mu
	spare   *queue.Queue

	context any
}

// NewEventLoop locks the calling goroutine to its OS thread and creates the loop of that thread.
func NewEventLoop(opts ...Option) *EventLoop {
	o := newOptions(opts...)
	runtime.LockOSThread()

	l := &EventLoop{
		tid:           gettid(),
		pollTimeoutMs: int(o.pollTimeout / time.Millisecond),
		pending:       queue.New(),
		spare:         queue.New(),
	}
	if exist, ok := registerLoop(l.tid, l); !ok {
		runtime.UnlockOSThread()
		logFatalf("another EventLoop %p exists in this thread %d", exist, l.tid)
	}
	zlog.Infof("EventLoop created %p in thread %d", l, l.tid)

	l.poller = openPoller(l)
	l.timerQueue = newTimerQueue(l)
	l.wakeupFd = createEventfd()
	l.wakeupChannel = NewChannel(l, l.wakeupFd)
	l.wakeupChannel.SetReadCallback(l.handleWakeup)
	// we are always reading the wakeupfd
	l.wakeupChannel.EnableReading()
	return l
}

// Loop runs until Quit is called. Must be called on the owning goroutine.
func (l *EventLoop) Loop() {
	l.AssertInLoopThread()
	if !l.looping.CompareAndSwap(false, true) {
		logFatalf("EventLoop %p is already looping", l)
	}
	zlog.Infof("EventLoop %p start looping", l)

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		l.pollReturnTime, l.activeChannels = l.poller.Poll(l.pollTimeoutMs, l.activeChannels)
		l.iteration++
		l.eventHandling = true
		for _, ch := range l.activeChannels {
			l.currentActiveChannel = ch
			ch.HandleEvent(l.pollReturnTime)
		}
		l.currentActiveChannel = nil
		l.eventHandling = false
		l.doPendingFunctors()
	}

	zlog.Infof("EventLoop %p stop looping", l)
	l.looping.Store(false)
}

// Quit asks the loop to exit after the current iteration.
// A Quit issued before Loop starts makes Loop return immediately.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// Close releases the loop's descriptors and unlocks its thread.
// Must be called on the owning goroutine after Loop returns.
func (l *EventLoop) Close() {
	l.AssertInLoopThread()
	zlog.Infof("close EventLoop %p of thread %d", l, l.tid)
	// tasks queued after the last iteration, and whatever they queue
	for l.QueueSize() > 0 {
		l.doPendingFunctors()
	}
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	closeFd(l.wakeupFd)
	l.timerQueue.close()
	if err := l.poller.Close(); err != nil {
		zlog.Errorf("EventLoop %p close poller failed: %v", l, err)
	}
	unregisterLoop(l.tid)
	runtime.UnlockOSThread()
}

// PollReturnTime is the time the last poll returned.
func (l *EventLoop) PollReturnTime() time.Time {
	return l.pollReturnTime
}

func (l *EventLoop) Iteration() int64 {
	return l.iteration
}

// RunInLoop runs cb now when called on the loop goroutine, otherwise queues it.
func (l *EventLoop) RunInLoop(cb func()) {
	if l.IsInLoopThread() {
		cb()
	} else {
		l.QueueInLoop(cb)
	}
}

// QueueInLoop runs cb on the loop goroutine after the current event dispatch.
func (l *EventLoop) QueueInLoop(cb func()) {
	l.mu.Lock()
	l.pending.Add(cb)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPendingFunctors.Load() {
		l.wakeup()
	}
}

func (l *EventLoop) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.Length()
}

// RunAt runs cb at time t.
func (l *EventLoop) RunAt(t time.Time, cb func()) TimerID {
	return l.timerQueue.AddTimer(cb, t, 0)
}

// RunAfter runs cb after delay.
func (l *EventLoop) RunAfter(delay time.Duration, cb func()) TimerID {
	return l.RunAt(time.Now().Add(delay), cb)
}

// RunEvery runs cb every interval, first after one interval.
func (l *EventLoop) RunEvery(interval time.Duration, cb func()) TimerID {
	return l.timerQueue.AddTimer(cb, time.Now().Add(interval), interval)
}

func (l *EventLoop) Cancel(id TimerID) {
	l.timerQueue.Cancel(id)
}

func (l *EventLoop) UpdateChannel(ch *Channel) {
	if ch.OwnerLoop() != l {
		logFatalf("channel of fd %d belongs to another loop", ch.Fd())
	}
	l.AssertInLoopThread()
	l.poller.UpdateChannel(ch)
}

func (l *EventLoop) RemoveChannel(ch *Channel) {
	if ch.OwnerLoop() != l {
		logFatalf("channel of fd %d belongs to another loop", ch.Fd())
	}
	l.AssertInLoopThread()
	l.poller.RemoveChannel(ch)
}

func (l *EventLoop) HasChannel(ch *Channel) bool {
	if ch.OwnerLoop() != l {
		logFatalf("channel of fd %d belongs to another loop", ch.Fd())
	}
	l.AssertInLoopThread()
	return l.poller.HasChannel(ch)
}

func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		l.abortNotInLoopThread()
	}
}

func (l *EventLoop) IsInLoopThread() bool {
	return l.tid == gettid()
}

func (l *EventLoop) EventHandling() bool {
	return l.eventHandling
}

func (l *EventLoop) SetContext(v any) {
	l.context = v
}

func (l *EventLoop) Context() any {
	return l.context
}

func (l *EventLoop) abortNotInLoopThread() {
	logFatalf("EventLoop %p was created in thread %d, current thread id = %d", l, l.tid, gettid())
}

func (l *EventLoop) wakeup() {
	writeEventfd(l.wakeupFd)
}

func (l *EventLoop) handleWakeup(time.Time) {
	readEventfd(l.wakeupFd)
}

// doPendingFunctors swaps the queue out under the lock and runs it without
// holding the lock, tasks queued meanwhile wait for the next iteration.
func (l *EventLoop) doPendingFunctors() {
	l.callingPendingFunctors.Store(true)

	l.mu.Lock()
	functors := l.pending
	l.pending = l.spare
	l.mu.Unlock()

	for functors.Length() > 0 {
		functors.Remove().(func())()
	}
	l.spare = functors

	l.callingPendingFunctors.Store(false)
}
