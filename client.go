package zloop

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/zhihanii/zlog"
)

// TcpClient keeps at most one connection to a server, optionally
// reconnecting when it closes. Callbacks must be set before Connect.
type TcpClient struct {
	loop      *EventLoop
	connector *Connector
	name      string
	o         *options

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	connectErrorCallback  ConnectErrorCallback

	retry   atomic.Bool
	connect atomic.Bool
	// always in loop goroutine
	nextConnID int

	mu         sync.Mutex
	connection *TcpConnection // guarded by mu
}

func NewTcpClient(loop *EventLoop, serverAddr *net.TCPAddr, name string, opts ...Option) *TcpClient {
	o := newOptions(opts...)
	c := &TcpClient{
		loop:               loop,
		connector:          newConnector(loop, serverAddr, o),
		name:               name,
		o:                  o,
		connectionCallback: DefaultConnectionCallback,
		messageCallback:    DefaultMessageCallback,
		nextConnID:         1,
	}
	c.connector.SetNewConnectionCallback(c.newConnection)
	c.connector.SetConnectErrorCallback(c.onConnectError)
	zlog.Infof("new client %s, connector %p", name, c.connector)
	return c
}

func (c *TcpClient) Loop() *EventLoop { return c.loop }
func (c *TcpClient) Name() string { return c.name }
func (c *TcpClient) Retry() bool { return c.retry.Load() }

// EnableRetry makes the client reconnect after an established connection closes.
func (c *TcpClient) EnableRetry() { c.retry.Store(true) }

func (c *TcpClient) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }
func (c *TcpClient) SetMessageCallback(cb MessageCallback) { c.messageCallback = cb }
func (c *TcpClient) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *TcpClient) SetConnectErrorCallback(cb ConnectErrorCallback) { c.connectErrorCallback = cb }

// Connection returns the current connection, nil when not connected.
func (c *TcpClient) Connection() *TcpConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

// Connect starts connecting. Calling it again while connecting or connected does nothing.
func (c *TcpClient) Connect() {
	if !c.connect.CompareAndSwap(false, true) {
		return
	}
	zlog.Infof("client %s connecting to %s", c.name, c.connector.ServerAddress())
	c.connector.Start()
}

// Disconnect shuts down the current connection gracefully.
func (c *TcpClient) Disconnect() {
	c.connect.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connection != nil {
		c.connection.Shutdown()
	}
}

// Stop abandons an in-progress connect.
func (c *TcpClient) Stop() {
	c.connect.Store(false)
	c.connector.Stop()
}

// Close detaches the client from its loop, force closing the current connection.
func (c *TcpClient) Close() {
	zlog.Infof("close client %s, connector %p", c.name, c.connector)
	c.connect.Store(false)
	c.mu.Lock()
	conn := c.connection
	c.mu.Unlock()
	if conn == nil {
		c.connector.Stop()
		return
	}
	loop := c.loop
	loop.RunInLoop(func() {
		conn.SetCloseCallback(func(conn *TcpConnection) {
			loop.QueueInLoop(conn.ConnectDestroyed)
		})
	})
	conn.ForceClose()
}

func (c *TcpClient) newConnection(fd int) {
	c.loop.AssertInLoopThread()
	peerAddr := getPeerAddr(fd)
	connName := fmt.Sprintf("%s:%s#%d", c.name, peerAddr, c.nextConnID)
	c.nextConnID++

	localAddr := getLocalAddr(fd)
	conn := newTcpConnection(c.loop, connName, fd, localAddr, peerAddr, c.o)
	conn.SetConnectionCallback(c.connectionCallback)
	conn.SetMessageCallback(c.messageCallback)
	conn.SetWriteCompleteCallback(c.writeCompleteCallback)
	conn.SetCloseCallback(c.removeConnection)

	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()
	conn.ConnectEstablished()
}

func (c *TcpClient) removeConnection(conn *TcpConnection) {
	c.loop.AssertInLoopThread()

	c.mu.Lock()
	if c.connection == conn {
		c.connection = nil
	}
	c.mu.Unlock()

	c.loop.QueueInLoop(conn.ConnectDestroyed)
	if c.retry.Load() && c.connect.Load() {
		zlog.Infof("client %s reconnecting to %s", c.name, c.connector.ServerAddress())
		c.connector.Restart()
		return
	}
	c.connector.connectionClosed()
	c.connect.Store(false)
}

func (c *TcpClient) onConnectError(err error) {
	zlog.Errorf("client %s gives up: %v", c.name, err)
	c.connect.Store(false)
	if c.connectErrorCallback != nil {
		c.connectErrorCallback(err)
	}
}
