package zloop

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

const (
	connectorDisconnected = "disconnected"
	connectorConnecting   = "connecting"
	connectorConnected    = "connected"

	eventDial      = "dial"
	eventEstablish = "establish"
	eventDrop      = "drop"
)

// Connector actively connects to one address, retrying with capped
// exponential backoff. The connected fd is handed to the new connection callback.
// Start and Stop are safe from any goroutine, the rest runs on the loop goroutine.
type Connector struct {
	loop       *EventLoop
	serverAddr *net.TCPAddr
	connect    atomic.Bool
	state      *fsm.FSM
	channel    *Channel
	retryTimer TimerID

	newConnectionCallback func(fd int)
	connectErrorCallback  ConnectErrorCallback

	initRetryDelay time.Duration
	maxRetryDelay  time.Duration
	retryDelay     time.Duration
}

func NewConnector(loop *EventLoop, serverAddr *net.TCPAddr, opts ...Option) *Connector {
	return newConnector(loop, serverAddr, newOptions(opts...))
}

func newConnector(loop *EventLoop, serverAddr *net.TCPAddr, o *options) *Connector {
	c := &Connector{
		loop:           loop,
		serverAddr:     serverAddr,
		initRetryDelay: o.initRetryDelay,
		maxRetryDelay:  o.maxRetryDelay,
		retryDelay:     o.initRetryDelay,
	}
	c.state = fsm.NewFSM(
		connectorDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{connectorDisconnected}, Dst: connectorConnecting},
			{Name: eventEstablish, Src: []string{connectorConnecting}, Dst: connectorConnected},
			{Name: eventDrop, Src: []string{connectorConnecting, connectorConnected}, Dst: connectorDisconnected},
		},
		fsm.Callbacks{},
	)
	zlog.Infof("new connector[%p] to %s", c, serverAddr)
	return c
}

func (c *Connector) SetNewConnectionCallback(cb func(fd int)) {
	c.newConnectionCallback = cb
}

// SetConnectErrorCallback registers cb for failures that are not retried.
func (c *Connector) SetConnectErrorCallback(cb ConnectErrorCallback) {
	c.connectErrorCallback = cb
}

func (c *Connector) ServerAddress() *net.TCPAddr {
	return c.serverAddr
}

// State returns the current state name.
func (c *Connector) State() string {
	return c.state.Current()
}

func (c *Connector) Start() {
	c.connect.Store(true)
	c.loop.RunInLoop(c.startInLoop)
}

// Restart resets the backoff and connects again. Must be called on the loop goroutine.
func (c *Connector) Restart() {
	c.loop.AssertInLoopThread()
	c.cancelRetry()
	if c.state.Is(connectorConnecting) {
		closeFd(c.removeAndResetChannel())
	}
	c.transition(eventDrop)
	c.retryDelay = c.initRetryDelay
	c.connect.Store(true)
	c.startInLoop()
}

func (c *Connector) Stop() {
	c.connect.Store(false)
	c.loop.QueueInLoop(c.stopInLoop)
}

func (c *Connector) startInLoop() {
	c.loop.AssertInLoopThread()
	if !c.state.Is(connectorDisconnected) {
		zlog.Errorf("connector[%p] start in state %s", c, c.state.Current())
		return
	}
	if c.connect.Load() {
		c.doConnect()
	} else {
		zlog.Infof("connector[%p] stopped, not connecting", c)
	}
}

func (c *Connector) stopInLoop() {
	c.loop.AssertInLoopThread()
	c.cancelRetry()
	switch {
	case c.state.Is(connectorConnecting):
		c.transition(eventDrop)
		fd := c.removeAndResetChannel()
		c.retry(fd)
	case c.state.Is(connectorConnected):
		// the fd belongs to the connection now
		c.transition(eventDrop)
	}
}

// connectionClosed moves a connected Connector back to disconnected so the
// next Start dials again. Must be called on the loop goroutine.
func (c *Connector) connectionClosed() {
	c.loop.AssertInLoopThread()
	if c.state.Is(connectorConnected) {
		c.transition(eventDrop)
	}
}

func (c *Connector) doConnect() {
	sa, family, err := tcpAddrToSockaddr(c.serverAddr)
	if err != nil {
		c.giveUp(err)
		return
	}
	fd, err := createNonblockingSocket(family)
	if err != nil {
		c.giveUp(err)
		return
	}
	switch errno := connectSocket(fd, sa); errno {
	case 0, unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		c.connecting(fd)

	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH:
		c.retry(fd)

	case unix.EACCES, unix.EPERM, unix.EAFNOSUPPORT, unix.EALREADY, unix.EBADF, unix.EFAULT, unix.ENOTSOCK:
		zlog.Errorf("connect to %s failed: %d %s", c.serverAddr, int(errno), errno.Error())
		closeFd(fd)
		c.giveUp(os.NewSyscallError("connect", errno))

	default:
		zlog.Errorf("connect to %s unexpected error: %d %s", c.serverAddr, int(errno), errno.Error())
		closeFd(fd)
		c.giveUp(os.NewSyscallError("connect", errno))
	}
}

func (c *Connector) connecting(fd int) {
	c.transition(eventDial)
	c.channel = NewChannel(c.loop, fd)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.EnableWriting()
}

// removeAndResetChannel detaches the channel now and drops it one task turn later,
// we may be inside its HandleEvent.
func (c *Connector) removeAndResetChannel() int {
	c.channel.DisableAll()
	c.channel.Remove()
	ch := c.channel
	c.loop.QueueInLoop(func() { c.resetChannel(ch) })
	return ch.Fd()
}

func (c *Connector) resetChannel(ch *Channel) {
	if c.channel == ch {
		c.channel = nil
	}
}

func (c *Connector) cancelRetry() {
	if c.retryTimer.Valid() {
		c.loop.Cancel(c.retryTimer)
		c.retryTimer = TimerID{}
	}
}

func (c *Connector) handleWrite() {
	zlog.Infof("connector to %s writable in state %s", c.serverAddr, c.state.Current())
	if !c.state.Is(connectorConnecting) {
		return
	}
	fd := c.removeAndResetChannel()
	if errno := getSocketError(fd); errno != 0 {
		zlog.Errorf("connect to %s failed, SO_ERROR = %d %s", c.serverAddr, int(errno), errno.Error())
		c.retry(fd)
	} else if isSelfConnect(fd) {
		zlog.Errorf("connect to %s is a self connect", c.serverAddr)
		c.retry(fd)
	} else {
		c.transition(eventEstablish)
		if c.connect.Load() && c.newConnectionCallback != nil {
			c.newConnectionCallback(fd)
		} else {
			closeFd(fd)
		}
	}
}

func (c *Connector) handleError() {
	zlog.Errorf("connector to %s error in state %s", c.serverAddr, c.state.Current())
	if c.state.Is(connectorConnecting) {
		fd := c.removeAndResetChannel()
		errno := getSocketError(fd)
		zlog.Errorf("connect to %s failed, SO_ERROR = %d %s", c.serverAddr, int(errno), errno.Error())
		c.retry(fd)
	}
}

func (c *Connector) retry(fd int) {
	closeFd(fd)
	c.transition(eventDrop)
	if !c.connect.Load() {
		zlog.Infof("connector[%p] stopped, not connecting", c)
		return
	}
	zlog.Infof("retry connecting to %s in %s", c.serverAddr, c.retryDelay)
	c.retryTimer = c.loop.RunAfter(c.retryDelay, func() {
		c.retryTimer = TimerID{}
		c.startInLoop()
	})
	c.retryDelay = min(c.retryDelay*2, c.maxRetryDelay)
}

func (c *Connector) giveUp(err error) {
	c.transition(eventDrop)
	if c.connectErrorCallback != nil {
		c.connectErrorCallback(fmt.Errorf("connect to %s: %w", c.serverAddr, err))
	}
}

// transition fires ev when the current state allows it, the
// same-state transitions of retry and stop are no-ops.
func (c *Connector) transition(ev string) {
	if !c.state.Can(ev) {
		return
	}
	if err := c.state.Event(context.Background(), ev); err != nil {
		zlog.Errorf("connector[%p] %s from %s: %v", c, ev, c.state.Current(), err)
	}
}
