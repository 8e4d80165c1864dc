package zloop

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

func createNonblockingSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

// connectSocket starts a connect(2) and returns the raw errno, 0 on success.
func connectSocket(fd int, sa unix.Sockaddr) unix.Errno {
	return errnoOf(unix.Connect(fd, sa))
}

func errnoOf(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EINVAL
}

func getSocketError(fd int) unix.Errno {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errnoOf(err)
	}
	return unix.Errno(v)
}

func closeFd(fd int) {
	if err := unix.Close(fd); err != nil {
		zlog.Errorf("close(fd=%d) failed: %v", fd, err)
	}
}

func shutdownWrite(fd int) {
	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil {
		zlog.Errorf("shutdown(fd=%d) failed: %v", fd, err)
	}
}

func getLocalAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		zlog.Errorf("getsockname(fd=%d) failed: %v", fd, err)
		return &net.TCPAddr{}
	}
	return sockaddrToTCPAddr(sa)
}

func getPeerAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		zlog.Errorf("getpeername(fd=%d) failed: %v", fd, err)
		return &net.TCPAddr{}
	}
	return sockaddrToTCPAddr(sa)
}

// isSelfConnect reports whether a connect to a local port ended up
// connected to itself, which happens when the ephemeral port equals the target.
func isSelfConnect(fd int) bool {
	local, peer := getLocalAddr(fd), getPeerAddr(fd)
	return local.Port == peer.Port && local.IP.Equal(peer.IP)
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	case *unix.SockaddrInet6:
		var zone string
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port, Zone: zone}
	}
	return &net.TCPAddr{}
}

// tcpAddrToSockaddr converts addr to a sockaddr and its address family.
func tcpAddrToSockaddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if addr == nil {
		return nil, 0, fmt.Errorf("%w: nil address", ErrUnsupportedAddress)
	}
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, unix.AF_INET, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		if addr.Zone != "" {
			if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedAddress, addr)
}
