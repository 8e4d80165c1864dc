package zloop

import "golang.org/x/sys/unix"

// SetKeepAlive enables SO_KEEPALIVE on fd with idle and probe interval of secs.
func SetKeepAlive(fd, secs int) error {
	// open keep-alive
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if secs <= 0 {
		return nil
	}
	// tcp_keepalive_intvl
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
		return err
	}
	// tcp_keepalive_time
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
}

func setTCPNoDelay(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolint(on))
}

func setReuseAddr(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolint(on))
}

func setReusePort(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolint(on))
}

func boolint(b bool) int {
	if b {
		return 1
	}
	return 0
}
