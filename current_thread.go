package zloop

import (
	"sync"

	"golang.org/x/sys/unix"
)

// gettid returns the kernel id of the calling thread.
// Only meaningful for goroutines locked with runtime.LockOSThread.
func gettid() int {
	return unix.Gettid()
}

// loops records the EventLoop owned by each thread, one at most.
var loops = struct {
	sync.Mutex
	m map[int]*EventLoop
}{m: make(map[int]*EventLoop)}

func registerLoop(tid int, loop *EventLoop) (exist *EventLoop, ok bool) {
	loops.Lock()
	defer loops.Unlock()
	if l, found := loops.m[tid]; found {
		return l, false
	}
	loops.m[tid] = loop
	return nil, true
}

func unregisterLoop(tid int) {
	loops.Lock()
	delete(loops.m, tid)
	loops.Unlock()
}

// LoopOfCurrentThread returns the EventLoop owned by the calling thread, or nil.
func LoopOfCurrentThread() *EventLoop {
	loops.Lock()
	defer loops.Unlock()
	return loops.m[gettid()]
}
