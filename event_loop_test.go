package zloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInLoopFromOtherGoroutine(t *testing.T) {
	loop := startLoop(t)
	assert.False(t, loop.IsInLoopThread())

	var inLoop bool
	runSync(t, loop, func() {
		inLoop = loop.IsInLoopThread()
		assert.Same(t, loop, LoopOfCurrentThread())
	})
	assert.True(t, inLoop)
}

func TestQueueInLoopKeepsOrder(t *testing.T) {
	loop := startLoop(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.QueueInLoop(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	runSync(t, loop, func() {})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueueInLoopWhileCallingPendingFunctors(t *testing.T) {
	loop := startLoop(t)

	done := make(chan struct{})
	loop.QueueInLoop(func() {
		// queued from inside a pending functor, must wake the loop again
		loop.QueueInLoop(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested task did not run")
	}
}

func TestRunInLoopRunsImmediatelyOnLoop(t *testing.T) {
	loop := startLoop(t)
	runSync(t, loop, func() {
		ran := false
		loop.RunInLoop(func() { ran = true })
		assert.True(t, ran)
	})
}

func TestOneLoopPerThread(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()
	assert.Same(t, loop, LoopOfCurrentThread())
	assert.Panics(t, func() { NewEventLoop() })
}

func TestAssertInLoopThread(t *testing.T) {
	loop := startLoop(t)
	assert.Panics(t, func() { loop.AssertInLoopThread() })
	runSync(t, loop, func() {
		assert.NotPanics(t, func() { loop.AssertInLoopThread() })
	})
}

func TestQuitStopsLoop(t *testing.T) {
	th := NewEventLoopThread(nil, "quit", WithPollTimeout(time.Hour))
	loop := th.StartLoop()

	var iterations atomic.Int64
	runSync(t, loop, func() { iterations.Store(loop.Iteration()) })

	stopped := make(chan struct{})
	go func() {
		th.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not quit")
	}
}

func TestThreadInitCallback(t *testing.T) {
	var initLoop *EventLoop
	th := NewEventLoopThread(func(loop *EventLoop) {
		loop.SetContext("ctx")
		initLoop = loop
	}, "init")
	loop := th.StartLoop()
	defer th.Stop()
	assert.Same(t, initLoop, loop)
	assert.Equal(t, "ctx", loop.Context())
}

func TestCloseRunsTasksQueuedByLeftoverTasks(t *testing.T) {
	done := make(chan []string, 1)
	go func() {
		loop := NewEventLoop()
		loop.Quit()
		loop.Loop()

		var order []string
		loop.QueueInLoop(func() {
			order = append(order, "first")
			loop.QueueInLoop(func() {
				order = append(order, "second")
				loop.QueueInLoop(func() { order = append(order, "third") })
			})
		})
		loop.Close()
		done <- order
	}()

	select {
	case order := <-done:
		assert.Equal(t, []string{"first", "second", "third"}, order)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not close")
	}
}
