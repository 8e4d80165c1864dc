package zloop

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

// TcpConnection is an established TCP connection bound to one EventLoop for
// its whole life. Send, Shutdown and ForceClose are safe from any goroutine,
// everything else runs on the loop goroutine.
type TcpConnection struct {
	stateKeeper

	loop      *EventLoop
	name      string
	reading   bool
	socket    *netFD
	channel   *Channel
	localAddr *net.TCPAddr
	peerAddr  *net.TCPAddr

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback
	highWaterMark         int

	inputBuffer  *Buffer
	outputBuffer *Buffer

	value     atomic.Value
	destroyed atomic.Bool
}

// NewTcpConnection wraps a connected, non-blocking fd. The connection owns fd from now on.
func NewTcpConnection(loop *EventLoop, name string, fd int, localAddr, peerAddr *net.TCPAddr, opts ...Option) *TcpConnection {
	return newTcpConnection(loop, name, fd, localAddr, peerAddr, newOptions(opts...))
}

func newTcpConnection(loop *EventLoop, name string, fd int, localAddr, peerAddr *net.TCPAddr, o *options) *TcpConnection {
	c := &TcpConnection{
		socket:        newNetFD(fd),
		loop:          loop,
		name:          name,
		reading:       true,
		channel:       NewChannel(loop, fd),
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		highWaterMark: o.highWaterMark,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
	}
	c.setState(stateConnecting)
	c.connectionCallback = DefaultConnectionCallback
	c.messageCallback = DefaultMessageCallback

	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	zlog.Infof("new connection %s fd=%d", name, fd)
	c.socket.setKeepAlive(o.keepAlive)
	if o.tcpNoDelay {
		c.socket.setTCPNoDelay(true)
	}
	return c
}

func (c *TcpConnection) Loop() *EventLoop { return c.loop }
func (c *TcpConnection) Name() string { return c.name }
func (c *TcpConnection) LocalAddr() *net.TCPAddr { return c.localAddr }
func (c *TcpConnection) PeerAddr() *net.TCPAddr { return c.peerAddr }
func (c *TcpConnection) Connected() bool { return c.getState() == stateConnected }
func (c *TcpConnection) Disconnected() bool { return c.getState() == stateDisconnected }
func (c *TcpConnection) IsReading() bool { return c.reading }
func (c *TcpConnection) InputBuffer() *Buffer { return c.inputBuffer }
func (c *TcpConnection) OutputBuffer() *Buffer { return c.outputBuffer }
func (c *TcpConnection) StateString() string { return c.getState().String() }
func (c *TcpConnection) String() string { return c.name }
func (c *TcpConnection) TCPInfo() (*unix.TCPInfo, error) { return c.socket.tcpInfo() }

// Context returns the value stored by SetContext.
func (c *TcpConnection) Context() any {
	return c.value.Load()
}

func (c *TcpConnection) SetContext(v any) {
	c.value.Store(v)
}

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback) { c.messageCallback = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *TcpConnection) SetCloseCallback(cb CloseCallback) { c.closeCallback = cb }

func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, highWaterMark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = highWaterMark
}

func (c *TcpConnection) SetTCPNoDelay(on bool) {
	c.socket.setTCPNoDelay(on)
}

// Send writes data, copying it when called off the loop goroutine.
// Data sent on a connection that is not connected is dropped.
func (c *TcpConnection) Send(data []byte) {
	if c.getState() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	p := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(p) })
}

func (c *TcpConnection) SendString(s string) {
	if c.getState() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop([]byte(s))
		return
	}
	c.loop.RunInLoop(func() { c.sendInLoop([]byte(s)) })
}

// SendBuffer sends and drains the readable bytes of buf.
func (c *TcpConnection) SendBuffer(buf *Buffer) {
	if c.getState() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf.Peek())
		buf.RetrieveAll()
		return
	}
	p := buf.RetrieveAsBytes(buf.ReadableBytes())
	c.loop.RunInLoop(func() { c.sendInLoop(p) })
}

// Shutdown closes the write side once the output buffer drains.
func (c *TcpConnection) Shutdown() {
	if c.casState(stateConnected, stateDisconnecting) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

// ForceClose closes the connection without waiting for pending output.
func (c *TcpConnection) ForceClose() {
	if s := c.getState(); s == stateConnected || s == stateDisconnecting {
		c.setState(stateDisconnecting)
		c.loop.QueueInLoop(c.forceCloseInLoop)
	}
}

func (c *TcpConnection) ForceCloseWithDelay(d time.Duration) {
	if s := c.getState(); s == stateConnected || s == stateDisconnecting {
		c.setState(stateDisconnecting)
		c.loop.RunAfter(d, c.ForceClose)
	}
}

func (c *TcpConnection) StartRead() {
	c.loop.RunInLoop(c.startReadInLoop)
}

func (c *TcpConnection) StopRead() {
	c.loop.RunInLoop(c.stopReadInLoop)
}

// ConnectEstablished is called once by the owner after the connection is handed to its loop.
func (c *TcpConnection) ConnectEstablished() {
	c.loop.AssertInLoopThread()
	if c.getState() != stateConnecting {
		logFatalf("connection %s established in state %s", c.name, c.getState())
	}
	c.setState(stateConnected)
	c.channel.tie(c)
	c.channel.EnableReading()

	c.connectionCallback(c)
}

// ConnectDestroyed is the last call the owner makes, one task turn after removal.
func (c *TcpConnection) ConnectDestroyed() {
	c.loop.AssertInLoopThread()
	if c.getState() == stateConnected {
		c.setState(stateDisconnected)
		c.channel.DisableAll()

		c.connectionCallback(c)
	}
	if c.channel.addedToLoop {
		c.channel.Remove()
	}
	c.destroyed.Store(true)
	c.socket.Close()
	c.inputBuffer.Release()
	c.outputBuffer.Release()
	zlog.Infof("connection %s destroyed, fd=%d state=%s", c.name, c.socket.fd, c.getState())
}

func (c *TcpConnection) alive() bool {
	return !c.destroyed.Load()
}

func (c *TcpConnection) sendInLoop(data []byte) {
	c.loop.AssertInLoopThread()
	var nwrote int
	remaining := len(data)
	faultError := false
	if c.getState() == stateDisconnected {
		zlog.Errorf("connection %s disconnected, give up writing", c.name)
		return
	}
	// if nothing in output queue, try writing directly
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := sendmsg(c.socket.fd, data)
		if err == nil {
			nwrote = n
			remaining = len(data) - nwrote
			if remaining == 0 && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		} else if err != unix.EAGAIN {
			zlog.Errorf("connection %s write failed: %v", c.name, err)
			if err == unix.EPIPE || err == unix.ECONNRESET {
				faultError = true
			}
		}
	}

	if !faultError && remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
			size := oldLen + remaining
			c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, size) })
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

func (c *TcpConnection) shutdownInLoop() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		// we are not writing
		c.socket.shutdownWrite()
	}
}

func (c *TcpConnection) forceCloseInLoop() {
	c.loop.AssertInLoopThread()
	if s := c.getState(); s == stateConnected || s == stateDisconnecting {
		// as if we received 0 byte in handleRead()
		c.handleClose()
	}
}

func (c *TcpConnection) startReadInLoop() {
	c.loop.AssertInLoopThread()
	if !c.reading || !c.channel.IsReading() {
		c.channel.EnableReading()
		c.reading = true
	}
}

func (c *TcpConnection) stopReadInLoop() {
	c.loop.AssertInLoopThread()
	if c.reading || c.channel.IsReading() {
		c.channel.DisableReading()
		c.reading = false
	}
}

func (c *TcpConnection) handleRead(receiveTime time.Time) {
	c.loop.AssertInLoopThread()
	n, err := c.inputBuffer.ReadFd(c.socket.fd)
	switch {
	case n > 0:
		c.messageCallback(c, c.inputBuffer, receiveTime)
	case err == nil:
		c.handleClose()
	case err == unix.EAGAIN || err == unix.EINTR:
	default:
		zlog.Errorf("connection %s read failed: %v", c.name, err)
		c.handleError()
		c.handleClose()
	}
}

func (c *TcpConnection) handleWrite() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		zlog.Infof("connection %s is down, no more writing", c.name)
		return
	}
	n, err := sendmsg(c.socket.fd, c.outputBuffer.Peek())
	if err != nil {
		if err != unix.EAGAIN {
			zlog.Errorf("connection %s write failed: %v", c.name, err)
		}
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
		}
		if c.getState() == stateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	c.loop.AssertInLoopThread()
	s := c.getState()
	zlog.Infof("connection %s closing, fd=%d state=%s", c.name, c.socket.fd, s)
	if s != stateConnected && s != stateDisconnecting {
		return
	}
	// we don't close fd, leave it to ConnectDestroyed
	c.setState(stateDisconnected)
	c.channel.DisableAll()

	c.connectionCallback(c)
	// must be the last line
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *TcpConnection) handleError() {
	err := getSocketError(c.socket.fd)
	zlog.Errorf("connection %s error, SO_ERROR = %d %s", c.name, int(err), err.Error())
}
