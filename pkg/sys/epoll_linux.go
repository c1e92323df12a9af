//go:build linux

package sys

import "golang.org/x/sys/unix"

// EpollCreate creates a close-on-exec epoll instance.
func EpollCreate() (int, error) {
	return unix.EpollCreate1(unix.EPOLL_CLOEXEC)
}

// EpollAdd registers fd on the epoll instance epfd for the given event
// mask. The fd itself is used as the event cookie.
func EpollAdd(epfd, fd int, events uint32) error {
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
}

// EpollDel removes fd from the epoll instance epfd.
func EpollDel(epfd, fd int) error {
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// EpollWait waits for events on epfd for at most msec milliseconds,
// retrying transparently when interrupted by a signal.
func EpollWait(epfd int, events []unix.EpollEvent, msec int) (int, error) {
	for {
		n, err := unix.EpollWait(epfd, events, msec)
		if err != unix.EINTR {
			return n, err
		}
	}
}
