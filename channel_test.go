package zloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type guard bool

func (g *guard) alive() bool { return bool(*g) }

func recordingChannel(events *[]string) *Channel {
	ch := NewChannel(nil, -1)
	ch.SetReadCallback(func(time.Time) { *events = append(*events, "read") })
	ch.SetWriteCallback(func() { *events = append(*events, "write") })
	ch.SetCloseCallback(func() { *events = append(*events, "close") })
	ch.SetErrorCallback(func() { *events = append(*events, "error") })
	ch.DoNotLogHup()
	return ch
}

func TestChannelDispatchOrder(t *testing.T) {
	cases := []struct {
		revents uint32
		want    []string
	}{
		{unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLOUT, []string{"close", "error", "write"}},
		{unix.EPOLLHUP | unix.EPOLLIN, []string{"read"}},
		{unix.EPOLLERR | unix.EPOLLIN | unix.EPOLLOUT, []string{"error", "read", "write"}},
		{unix.EPOLLPRI, []string{"read"}},
		{unix.EPOLLRDHUP, []string{"read"}},
	}
	for _, c := range cases {
		var events []string
		ch := recordingChannel(&events)
		ch.revents = c.revents
		ch.HandleEvent(time.Now())
		assert.Equal(t, c.want, events, ch.String())
	}
}

func TestChannelTie(t *testing.T) {
	var events []string
	ch := recordingChannel(&events)
	g := guard(true)
	ch.tie(&g)
	ch.revents = unix.EPOLLIN

	ch.HandleEvent(time.Now())
	assert.Equal(t, []string{"read"}, events)

	g = false
	ch.HandleEvent(time.Now())
	assert.Equal(t, []string{"read"}, events)
}

func TestPollerChannelLifecycle(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	fd := createEventfd()
	defer closeFd(fd)
	ch := NewChannel(loop, fd)
	assert.False(t, loop.HasChannel(ch))
	assert.Equal(t, channelNew, ch.state)

	ch.EnableReading()
	assert.True(t, loop.HasChannel(ch))
	assert.Equal(t, channelAdded, ch.state)
	assert.True(t, ch.IsReading())

	ch.DisableAll()
	assert.True(t, ch.IsNoneEvent())
	assert.Equal(t, channelDeleted, ch.state)
	// deleted from epoll but still known to the poller
	assert.True(t, loop.HasChannel(ch))

	ch.EnableWriting()
	assert.Equal(t, channelAdded, ch.state)
	ch.DisableAll()

	ch.Remove()
	assert.False(t, loop.HasChannel(ch))
	assert.Equal(t, channelNew, ch.state)
}

func TestPollerReportsReadyChannel(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	fd := createEventfd()
	defer closeFd(fd)
	ch := NewChannel(loop, fd)
	ch.EnableReading()

	writeEventfd(fd)
	_, active := loop.poller.Poll(1000, nil)
	require.Contains(t, active, ch)
	assert.NotZero(t, ch.revents&unix.EPOLLIN)
	assert.Equal(t, uint64(1), readEventfd(fd))

	ch.DisableAll()
	ch.Remove()
}

func TestPollerGrowsEventList(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	var channels []*Channel
	for i := 0; i < initEventListSize; i++ {
		fd := createEventfd()
		ch := NewChannel(loop, fd)
		ch.EnableReading()
		writeEventfd(fd)
		channels = append(channels, ch)
	}
	p := loop.poller.(*defaultPoller)
	_, active := p.Poll(1000, nil)
	assert.Len(t, active, initEventListSize)
	assert.Equal(t, initEventListSize*2, len(p.events))

	for _, ch := range channels {
		ch.DisableAll()
		ch.Remove()
		closeFd(ch.Fd())
	}
}
