package zloop

import (
	"fmt"
	"strings"
	"time"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

type channelState int8

const (
	channelNew channelState = iota
	channelAdded
	channelDeleted
)

// lifetimeGuard reports whether the owner of a Channel can still take events.
type lifetimeGuard interface {
	alive() bool
}

// Channel dispatches the readiness events of one fd to its callbacks.
// It never owns the fd. All methods must be called on the loop goroutine.
type Channel struct {
	loop    *EventLoop
	fd      int
	events  uint32
	revents uint32
	state   channelState
	logHup  bool

	guard lifetimeGuard
	tied  bool

	eventHandling bool
	addedToLoop   bool

	readCallback  func(receiveTime time.Time)
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:   loop,
		fd:     fd,
		logHup: true,
	}
}

func (c *Channel) Fd() int {
	return c.fd
}

func (c *Channel) OwnerLoop() *EventLoop {
	return c.loop
}

func (c *Channel) SetReadCallback(cb func(receiveTime time.Time)) { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// tie binds the channel to its owner, events are dropped once the owner is gone.
func (c *Channel) tie(g lifetimeGuard) {
	c.guard = g
	c.tied = true
}

func (c *Channel) EnableReading() { c.events |= epollRead; c.update() }
func (c *Channel) DisableReading() { c.events &^= epollRead; c.update() }
func (c *Channel) EnableWriting() { c.events |= epollWrite; c.update() }
func (c *Channel) DisableWriting() { c.events &^= epollWrite; c.update() }
func (c *Channel) DisableAll() { c.events = epollNone; c.update() }

func (c *Channel) IsNoneEvent() bool { return c.events == epollNone }
func (c *Channel) IsWriting() bool { return c.events&epollWrite != 0 }
func (c *Channel) IsReading() bool { return c.events&epollRead != 0 }

func (c *Channel) DoNotLogHup() {
	c.logHup = false
}

// Remove detaches the channel from its loop. Interest must be empty.
func (c *Channel) Remove() {
	c.addedToLoop = false
	c.loop.RemoveChannel(c)
}

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.UpdateChannel(c)
}

// HandleEvent dispatches the last observed readiness in a fixed order:
// close, error, read, write.
func (c *Channel) HandleEvent(receiveTime time.Time) {
	if c.tied && !c.guard.alive() {
		return
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime time.Time) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revents&unix.EPOLLHUP != 0 && c.revents&unix.EPOLLIN == 0 {
		if c.logHup {
			zlog.Infof("fd %d hang up", c.fd)
		}
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&unix.EPOLLERR != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.revents&unix.EPOLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

func (c *Channel) String() string {
	return eventsToString(c.fd, c.revents)
}

func eventsToString(fd int, ev uint32) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d: ", fd)
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{unix.EPOLLIN, "IN"},
		{unix.EPOLLPRI, "PRI"},
		{unix.EPOLLOUT, "OUT"},
		{unix.EPOLLHUP, "HUP"},
		{unix.EPOLLRDHUP, "RDHUP"},
		{unix.EPOLLERR, "ERR"},
	} {
		if ev&f.bit != 0 {
			sb.WriteString(f.name)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
