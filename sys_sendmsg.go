package zloop

import "golang.org/x/sys/unix"

// sendmsg writes p to a connected socket. MSG_NOSIGNAL turns a write to a
// reset peer into EPIPE instead of SIGPIPE.
func sendmsg(fd int, p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err = unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
	if err != nil {
		return 0, err
	}
	return n, nil
}
