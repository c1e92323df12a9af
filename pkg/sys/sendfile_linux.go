//go:build linux

package sys

import "golang.org/x/sys/unix"

// Sendfile copies up to count bytes from the current offset of src to
// dst without passing through userspace. It returns the number of bytes
// actually moved.
func Sendfile(dst, src int, count int) (int, error) {
	return unix.Sendfile(dst, src, nil, count)
}
