package zloop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startLoop runs a loop on its own goroutine until the test ends.
func startLoop(t *testing.T, opts ...Option) *EventLoop {
	t.Helper()
	th := NewEventLoopThread(nil, t.Name(), opts...)
	loop := th.StartLoop()
	t.Cleanup(th.Stop)
	return loop
}

// runSync runs fn on loop and waits for it.
func runSync(t *testing.T, loop *EventLoop, fn func()) {
	t.Helper()
	require.True(t, tryRunSync(loop, fn, 5*time.Second), "loop task timed out")
}

func tryRunSync(loop *EventLoop, fn func(), timeout time.Duration) bool {
	done := make(chan struct{})
	loop.RunInLoop(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func loopbackAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

// closedPort returns a loopback address nobody listens on.
func closedPort(t *testing.T) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())
	return addr
}
