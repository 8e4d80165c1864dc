package zloop

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/zhihanii/zlog"
)

// TcpServer accepts on its base loop and spreads connections over an io loop pool.
type TcpServer struct {
	loop       *EventLoop
	ipPort     string
	name       string
	o          *options
	acceptor   *Acceptor
	threadPool *EventLoopThreadPool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback

	started atomic.Bool
	// always in loop goroutine
	nextConnID  int
	connections map[string]*TcpConnection
}

func NewTcpServer(loop *EventLoop, listenAddr *net.TCPAddr, name string, opts ...Option) (*TcpServer, error) {
	o := newOptions(opts...)
	acceptor, err := NewAcceptor(loop, listenAddr, o.reusePort)
	if err != nil {
		return nil, fmt.Errorf("new server %s: %w", name, err)
	}
	s := &TcpServer{
		loop:               loop,
		ipPort:             listenAddr.String(),
		name:               name,
		o:                  o,
		acceptor:           acceptor,
		threadPool:         NewEventLoopThreadPool(loop, name, WithPollTimeout(o.pollTimeout)),
		connectionCallback: DefaultConnectionCallback,
		messageCallback:    DefaultMessageCallback,
		nextConnID:         1,
		connections:        make(map[string]*TcpConnection),
	}
	if err = s.threadPool.SetNumThreads(o.numThreads); err != nil {
		return nil, err
	}
	acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

func (s *TcpServer) IPPort() string { return s.ipPort }
func (s *TcpServer) Name() string { return s.name }
func (s *TcpServer) Loop() *EventLoop { return s.loop }
func (s *TcpServer) ThreadPool() *EventLoopThreadPool { return s.threadPool }

// Addr returns the listening address.
func (s *TcpServer) Addr() *net.TCPAddr {
	return s.acceptor.Addr()
}

func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback) { s.messageCallback = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }

func (s *TcpServer) SetHighWaterMarkCallback(cb HighWaterMarkCallback, highWaterMark int) {
	s.highWaterMarkCallback = cb
	s.o.highWaterMark = highWaterMark
}

// Start starts the io loops and begins listening. Calling it again does nothing.
// Must be called on the base loop goroutine.
func (s *TcpServer) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.threadPool.Start(s.o.threadInit)
	if err := s.acceptor.Listen(); err != nil {
		return fmt.Errorf("server %s listen on %s: %w", s.name, s.ipPort, err)
	}
	zlog.Infof("TcpServer %s listening on %s", s.name, s.Addr())
	return nil
}

// Stop closes the acceptor, destroys every connection and joins the io loops.
// Must be called on the base loop goroutine.
func (s *TcpServer) Stop() {
	s.loop.AssertInLoopThread()
	zlog.Infof("stop server %s", s.name)
	s.acceptor.Close()
	for name, conn := range s.connections {
		delete(s.connections, name)
		conn.Loop().RunInLoop(conn.ConnectDestroyed)
	}
	s.threadPool.Stop()
}

func (s *TcpServer) NumConnections() int {
	s.loop.AssertInLoopThread()
	return len(s.connections)
}

func (s *TcpServer) newConnection(fd int, peerAddr *net.TCPAddr) {
	s.loop.AssertInLoopThread()
	ioLoop := s.threadPool.GetNextLoop()
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	s.nextConnID++

	zlog.Infof("server %s accepted connection %s from %s", s.name, connName, peerAddr)
	localAddr := getLocalAddr(fd)
	conn := newTcpConnection(ioLoop, connName, fd, localAddr, peerAddr, s.o)
	s.connections[connName] = conn
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	if s.highWaterMarkCallback != nil {
		conn.SetHighWaterMarkCallback(s.highWaterMarkCallback, s.o.highWaterMark)
	}
	conn.SetCloseCallback(s.removeConnection)
	ioLoop.RunInLoop(conn.ConnectEstablished)
}

func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *TcpConnection) {
	s.loop.AssertInLoopThread()
	zlog.Infof("server %s removes connection %s", s.name, conn.Name())
	delete(s.connections, conn.Name())
	conn.Loop().QueueInLoop(conn.ConnectDestroyed)
}
