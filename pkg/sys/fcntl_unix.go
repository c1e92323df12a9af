//go:build !windows && !plan9

package sys

import "golang.org/x/sys/unix"

// Fcntl calls fcntl(2) with an integer argument.
func Fcntl(fd int, cmd int, arg int) (int, error) {
	return unix.FcntlInt(uintptr(fd), cmd, arg)
}

// GetNonblock reports whether the file status flags of fd include
// O_NONBLOCK.
func GetNonblock(fd int) (bool, error) {
	r, err := Fcntl(fd, unix.F_GETFL, 0)
	return r&unix.O_NONBLOCK != 0, err
}

// SetNonblock sets or clears O_NONBLOCK in the file status flags of fd.
// Unlike unix.SetNonblock it preserves the other status flags on the
// read-modify-write path even for flags fcntl would ignore.
func SetNonblock(fd int, nonblock bool) error {
	r, err := Fcntl(fd, unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	if nonblock {
		r |= unix.O_NONBLOCK
	} else {
		r &^= unix.O_NONBLOCK
	}
	_, err = Fcntl(fd, unix.F_SETFL, r)
	return err
}
