package zloop

import (
	"encoding/binary"
	"time"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

const minTimerfdDelay = 100 * time.Microsecond

func createTimerfd() int {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		logFatalf("failed in timerfd_create: %v", err)
	}
	return fd
}

// resetTimerfd arms fd to fire once at expiration, never sooner than 100µs from now.
func resetTimerfd(fd int, expiration time.Time) {
	d := time.Until(expiration)
	if d < minTimerfdDelay {
		d = minTimerfdDelay
	}
	var newValue, oldValue unix.ItimerSpec
	newValue.Value = unix.NsecToTimespec(d.Nanoseconds())
	if err := unix.TimerfdSettime(fd, 0, &newValue, &oldValue); err != nil {
		zlog.Errorf("timerfd_settime(fd=%d) failed: %v", fd, err)
	}
}

func readTimerfd(fd int, now time.Time) uint64 {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if n != 8 {
		zlog.Errorf("timerfd(fd=%d) reads %d bytes instead of 8 at %s: %v", fd, n, now.Format(time.RFC3339Nano), err)
		return 0
	}
	return binary.NativeEndian.Uint64(buf[:])
}
