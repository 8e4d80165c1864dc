package zloop

import "sync"

// EventLoopThread runs one EventLoop on a dedicated, thread-locked goroutine.
type EventLoopThread struct {
	name     string
	callback ThreadInitCallback
	opts     []Option

	mu   sync.Mutex
	cond *sync.Cond
	loop *EventLoop // guarded by mu

	started bool
	done    chan struct{}
}

func NewEventLoopThread(cb ThreadInitCallback, name string, opts ...Option) *EventLoopThread {
	t := &EventLoopThread{
		name:     name,
		callback: cb,
		opts:     opts,
		done:     make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *EventLoopThread) Name() string {
	return t.name
}

// StartLoop starts the goroutine and blocks until its loop exists.
func (t *EventLoopThread) StartLoop() *EventLoop {
	if t.started {
		logFatalf("EventLoopThread %s started twice", t.name)
	}
	t.started = true
	go t.threadFunc()

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.loop == nil {
		t.cond.Wait()
	}
	return t.loop
}

// Stop quits the loop and waits for the goroutine to finish.
func (t *EventLoopThread) Stop() {
	if !t.started {
		return
	}
	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop != nil {
		loop.Quit()
	}
	<-t.done
}

func (t *EventLoopThread) threadFunc() {
	defer close(t.done)
	loop := NewEventLoop(t.opts...)
	if t.callback != nil {
		t.callback(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.cond.Signal()
	t.mu.Unlock()

	loop.Loop()

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
	loop.Close()
}
