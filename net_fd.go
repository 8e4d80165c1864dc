package zloop

import (
	"net"
	"os"
	"sync/atomic"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

// netFD owns a socket file descriptor and closes it exactly once.
type netFD struct {
	// file descriptor
	fd int
	// closed marks whether fd has expired
	closed uint32
}

func newNetFD(fd int) *netFD {
	return &netFD{fd: fd}
}

func (c *netFD) Fd() (fd int) {
	return c.fd
}

// Close will be executed only once.
func (c *netFD) Close() (err error) {
	if atomic.AddUint32(&c.closed, 1) != 1 {
		return nil
	}
	if c.fd >= 0 {
		err = unix.Close(c.fd)
		if err != nil {
			zlog.Errorf("netFD[%d] close error: %s", c.fd, err.Error())
		}
	}
	return err
}

func (c *netFD) bindAddress(addr *net.TCPAddr) error {
	sa, _, err := tcpAddrToSockaddr(addr)
	if err != nil {
		return err
	}
	if err = unix.Bind(c.fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	return nil
}

func (c *netFD) listen() error {
	if err := unix.Listen(c.fd, unix.SOMAXCONN); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

// accept returns a non-blocking, close-on-exec connection fd and its peer address.
func (c *netFD) accept() (int, *net.TCPAddr, error) {
	nfd, sa, err := unix.Accept4(c.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return nfd, sockaddrToTCPAddr(sa), nil
}

func (c *netFD) shutdownWrite() {
	shutdownWrite(c.fd)
}

func (c *netFD) setTCPNoDelay(on bool) {
	if err := setTCPNoDelay(c.fd, on); err != nil {
		zlog.Errorf("netFD[%d] set TCP_NODELAY error: %v", c.fd, err)
	}
}

func (c *netFD) setReuseAddr(on bool) {
	if err := setReuseAddr(c.fd, on); err != nil {
		zlog.Errorf("netFD[%d] set SO_REUSEADDR error: %v", c.fd, err)
	}
}

func (c *netFD) setReusePort(on bool) {
	if err := setReusePort(c.fd, on); err != nil && on {
		zlog.Errorf("netFD[%d] set SO_REUSEPORT error: %v", c.fd, err)
	}
}

// setKeepAlive turns on SO_KEEPALIVE, tuning idle and interval when secs > 0.
func (c *netFD) setKeepAlive(secs int) {
	if err := SetKeepAlive(c.fd, secs); err != nil {
		zlog.Errorf("netFD[%d] set keep-alive error: %v", c.fd, err)
	}
}

func (c *netFD) tcpInfo() (*unix.TCPInfo, error) {
	return unix.GetsockoptTCPInfo(c.fd, unix.IPPROTO_TCP, unix.TCP_INFO)
}
