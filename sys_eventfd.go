package zloop

import (
	"encoding/binary"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

func createEventfd() int {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		logFatalf("failed in eventfd: %v", err)
	}
	return fd
}

// writeEventfd adds one to the eventfd counter.
func writeEventfd(fd int) {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	n, err := unix.Write(fd, one[:])
	if n != 8 {
		zlog.Errorf("eventfd(fd=%d) writes %d bytes instead of 8: %v", fd, n, err)
	}
}

func readEventfd(fd int) uint64 {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if n != 8 {
		zlog.Errorf("eventfd(fd=%d) reads %d bytes instead of 8: %v", fd, n, err)
		return 0
	}
	return binary.NativeEndian.Uint64(buf[:])
}
