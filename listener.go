package zloop

import (
	"net"
	"os"
	"time"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback receives an accepted, non-blocking fd and its peer address.
type NewConnectionCallback func(fd int, peerAddr *net.TCPAddr)

// Acceptor accepts TCP connections on the loop that owns it.
type Acceptor struct {
	loop                  *EventLoop
	acceptSocket          *netFD
	acceptChannel         *Channel
	newConnectionCallback NewConnectionCallback
	listening             bool
	// reserved so that EMFILE can be handled by shedding the connection
	idleFd int
}

func NewAcceptor(loop *EventLoop, listenAddr *net.TCPAddr, reusePort bool) (*Acceptor, error) {
	_, family, err := tcpAddrToSockaddr(listenAddr)
	if err != nil {
		return nil, err
	}
	fd, err := createNonblockingSocket(family)
	if err != nil {
		return nil, err
	}
	a := &Acceptor{
		loop:         loop,
		acceptSocket: newNetFD(fd),
	}
	a.acceptSocket.setReuseAddr(true)
	a.acceptSocket.setReusePort(reusePort)
	if err = a.acceptSocket.bindAddress(listenAddr); err != nil {
		a.acceptSocket.Close()
		return nil, err
	}
	a.idleFd, err = openIdleFd()
	if err != nil {
		a.acceptSocket.Close()
		return nil, err
	}
	a.acceptChannel = NewChannel(loop, fd)
	a.acceptChannel.SetReadCallback(a.handleRead)
	return a, nil
}

func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

func (a *Acceptor) Listening() bool {
	return a.listening
}

// Addr returns the bound address, with the kernel-chosen port when bound to port 0.
func (a *Acceptor) Addr() *net.TCPAddr {
	return getLocalAddr(a.acceptSocket.Fd())
}

func (a *Acceptor) Listen() error {
	a.loop.AssertInLoopThread()
	if err := a.acceptSocket.listen(); err != nil {
		return err
	}
	a.listening = true
	a.acceptChannel.EnableReading()
	return nil
}

// Close stops accepting and releases the listening socket. Loop goroutine only.
func (a *Acceptor) Close() {
	a.loop.AssertInLoopThread()
	if a.listening {
		a.acceptChannel.DisableAll()
		a.acceptChannel.Remove()
		a.listening = false
	}
	a.acceptSocket.Close()
	closeFd(a.idleFd)
}

func (a *Acceptor) handleRead(time.Time) {
	a.loop.AssertInLoopThread()
	connfd, peerAddr, err := a.acceptSocket.accept()
	if err == nil {
		if a.newConnectionCallback != nil {
			a.newConnectionCallback(connfd, peerAddr)
		} else {
			closeFd(connfd)
		}
		return
	}
	if err == unix.EAGAIN || err == unix.EINTR || err == unix.ECONNABORTED {
		return
	}
	zlog.Errorf("accept connection failed: %v", err)
	// Read the section named "The special problem of
	// accept()ing when you can't" in libev's doc.
	if err == unix.EMFILE {
		closeFd(a.idleFd)
		if fd, _, err := unix.Accept(a.acceptSocket.Fd()); err == nil {
			closeFd(fd)
		}
		if a.idleFd, err = openIdleFd(); err != nil {
			zlog.Errorf("reopen idle fd failed: %v", err)
		}
	}
}

func openIdleFd() (int, error) {
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("open", err)
	}
	return fd, nil
}
