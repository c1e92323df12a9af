//go:build linux

package sys

// si_code values for SIGCHLD, as defined by asm-generic/siginfo.h.
// These are uniform across all Linux architectures but are not
// exposed by golang.org/x/sys/unix.
const (
	CLD_EXITED    = 1
	CLD_KILLED    = 2
	CLD_DUMPED    = 3
	CLD_TRAPPED   = 4
	CLD_STOPPED   = 5
	CLD_CONTINUED = 6
)
