package zloop

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	epollNone  uint32 = 0
	epollRead         = unix.EPOLLIN | unix.EPOLLPRI
	epollWrite        = unix.EPOLLOUT
)

func epollCreate() (int, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return -1, os.NewSyscallError("epoll_create1", err)
	}
	return fd, nil
}

// EpollCtl implements epoll_ctl.
// 注册epoll事件, fd存入event.Fd, 由poller据此找回Channel
func EpollCtl(epfd int, op int, fd int, events uint32) error {
	var evt = unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(epfd, op, fd, &evt)
}

// EpollWait implements epoll_wait.
// 等待事件的产生
func EpollWait(epfd int, events []unix.EpollEvent, msec int) (n int, err error) {
	n, err = unix.EpollWait(epfd, events, msec)
	if err == unix.EINTR {
		return 0, nil
	}
	return n, err
}

func epollOpString(op int) string {
	switch op {
	case unix.EPOLL_CTL_ADD:
		return "ADD"
	case unix.EPOLL_CTL_DEL:
		return "DEL"
	case unix.EPOLL_CTL_MOD:
		return "MOD"
	default:
		return "Unknown Operation"
	}
}
