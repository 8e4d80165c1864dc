package zloop

import (
	"time"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

// Poller is the I/O multiplexer owned by one EventLoop.
// All methods except Close must be called on the loop goroutine.
type Poller interface {
	// Poll waits up to timeoutMs and appends the ready channels to active.
	Poll(timeoutMs int, active []*Channel) (time.Time, []*Channel)

	UpdateChannel(ch *Channel)

	RemoveChannel(ch *Channel)

	HasChannel(ch *Channel) bool

	Close() error
}

const initEventListSize = 16

func openPoller(loop *EventLoop) Poller {
	return openDefaultPoller(loop)
}

// defaultPoller is a level-triggered epoll(7) poller.
type defaultPoller struct {
	owner    *EventLoop
	fd       int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func openDefaultPoller(loop *EventLoop) *defaultPoller {
	var p = new(defaultPoller)
	var err error
	p.fd, err = epollCreate()
	if err != nil {
		logFatalf("open poller failed: %v", err)
	}
	p.owner = loop
	p.events = make([]unix.EpollEvent, initEventListSize)
	p.channels = make(map[int]*Channel)
	return p
}

func (p *defaultPoller) Poll(timeoutMs int, active []*Channel) (time.Time, []*Channel) {
	n, err := EpollWait(p.fd, p.events, timeoutMs)
	now := time.Now()
	if err != nil {
		zlog.Errorf("epoll_wait(fd=%d) failed: %v", p.fd, err)
		return now, active
	}
	active = p.fillActiveChannels(n, active)
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)<<1)
	}
	return now, active
}

func (p *defaultPoller) fillActiveChannels(n int, active []*Channel) []*Channel {
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		ch, ok := p.channels[fd]
		if !ok {
			zlog.Errorf("epoll reports unknown fd %d", fd)
			continue
		}
		ch.revents = p.events[i].Events
		active = append(active, ch)
	}
	return active
}

func (p *defaultPoller) UpdateChannel(ch *Channel) {
	p.owner.AssertInLoopThread()
	switch ch.state {
	case channelNew, channelDeleted:
		// a new one, add with EPOLL_CTL_ADD
		if ch.state == channelNew {
			if _, ok := p.channels[ch.fd]; ok {
				logFatalf("fd %d is already registered", ch.fd)
			}
			p.channels[ch.fd] = ch
		} else if p.channels[ch.fd] != ch {
			logFatalf("fd %d is registered by another channel", ch.fd)
		}
		ch.state = channelAdded
		p.update(unix.EPOLL_CTL_ADD, ch)
	default:
		// update existing one with EPOLL_CTL_MOD/DEL
		if ch.IsNoneEvent() {
			p.update(unix.EPOLL_CTL_DEL, ch)
			ch.state = channelDeleted
		} else {
			p.update(unix.EPOLL_CTL_MOD, ch)
		}
	}
}

func (p *defaultPoller) RemoveChannel(ch *Channel) {
	p.owner.AssertInLoopThread()
	if p.channels[ch.fd] != ch {
		logFatalf("fd %d is not registered", ch.fd)
	}
	if !ch.IsNoneEvent() {
		logFatalf("fd %d removed with events %s", ch.fd, eventsToString(ch.fd, ch.events))
	}
	delete(p.channels, ch.fd)
	if ch.state == channelAdded {
		p.update(unix.EPOLL_CTL_DEL, ch)
	}
	ch.state = channelNew
}

func (p *defaultPoller) HasChannel(ch *Channel) bool {
	p.owner.AssertInLoopThread()
	c, ok := p.channels[ch.fd]
	return ok && c == ch
}

func (p *defaultPoller) Close() error {
	return unix.Close(p.fd)
}

func (p *defaultPoller) update(op int, ch *Channel) {
	if err := EpollCtl(p.fd, op, ch.fd, ch.events); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			zlog.Errorf("epoll_ctl op = %s fd = %d failed: %v", epollOpString(op), ch.fd, err)
			return
		}
		logFatalf("epoll_ctl op = %s fd = %d failed: %v", epollOpString(op), ch.fd, err)
	}
}
