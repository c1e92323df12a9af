// Package agent implements the executor core: a single-threaded event
// loop multiplexing scheduler I/O, child I/O and child termination over
// epoll, a 127-slot child table, and the framed message processor
// driving it all.
//
// The scheduler owns the transport; the executor only ever sees a pair
// of byte streams. It reads requests from the input stream, runs child
// processes in parallel, and relays their interleaved output and exit
// status as frames on the output stream.
package agent

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltx/pkg/buildinfo"
	"github.com/linux-test-project/ltx/pkg/iobuf"
	"github.com/linux-test-project/ltx/pkg/sys"
)

const (
	inBufCap  = 8 * 1024
	outBufCap = 64 * 1024

	// High-water mark past which the processor drains the output buffer
	// before decoding further messages.
	outHighWater = outBufCap / 4

	// Upper bound on a single read from a child pipe.
	childChunk = 1024

	pollTimeout = 100 // milliseconds
	maxEvents   = 64

	// Size of one record on the exit pipe: pid u32, si_code u8,
	// si_status u8, 2 bytes of padding.
	exitRecSize = 8
)

// sourceKind tags the closed set of event sources the reactor knows.
type sourceKind uint8

const (
	srcSchedIn sourceKind = iota
	srcSchedOut
	srcExitRecords
	srcChildOut
)

type source struct {
	kind sourceKind
	slot uint8 // meaningful for srcChildOut only
}

// Agent owns every process-wide resource of the executor: the stream
// buffers, the child table, the epoll instance and the exit-record
// pipe. All shared state is mutated on the event-loop goroutine only.
type Agent struct {
	in   *os.File
	out  *os.File
	diag *os.File

	inBuf  *iobuf.Buffer
	outBuf *iobuf.Buffer
	table  childTable

	epfd    int
	exitR   *os.File
	exitW   *os.File
	sources map[int32]source

	outBlocked bool
	stop       bool

	// exit terminates the process on a fatal error; tests override it.
	exit func(code int)
}

func newAgent(in, out, diag *os.File) *Agent {
	return &Agent{
		in:      in,
		out:     out,
		diag:    diag,
		inBuf:   iobuf.New(inBufCap),
		outBuf:  iobuf.New(outBufCap),
		sources: make(map[int32]source),
		exit:    os.Exit,
	}
}

// Run drives the executor over the given stdin/stdout/stderr files until
// the input stream hangs up, and returns the process exit status. The
// executor takes no arguments; passing any is a usage error.
func Run(fds [3]*os.File, args []string) int {
	if len(args) > 0 {
		fmt.Fprintln(fds[2], "Usage: ltx takes no arguments")
		return 2
	}
	a := newAgent(fds[0], fds[1], fds[2])
	a.main()
	return 0
}

func (a *Agent) main() {
	a.logf("Linux Test Executor %s", buildinfo.Full())
	if isatty.IsTerminal(a.out.Fd()) {
		a.logf("output stream is a terminal")
	}
	a.setup()
	a.loop()
	a.shutdown()
}

func (a *Agent) setup() {
	epfd, err := sys.EpollCreate()
	a.check(err, "sys.EpollCreate()")
	a.epfd = epfd
	a.check(sys.SetNonblock(int(a.out.Fd()), true), "sys.SetNonblock(data_out, true)")

	r, w, err := os.Pipe()
	a.check(err, "os.Pipe()")
	a.exitR, a.exitW = r, w
	a.check(sys.SetNonblock(int(r.Fd()), true), "sys.SetNonblock(exit pipe)")

	a.register(int(a.in.Fd()), unix.EPOLLIN, source{kind: srcSchedIn})
	a.register(int(a.out.Fd()), unix.EPOLLOUT|unix.EPOLLET, source{kind: srcSchedOut})
	a.register(int(a.exitR.Fd()), unix.EPOLLIN, source{kind: srcExitRecords})
}

func (a *Agent) register(fd int, events uint32, src source) {
	a.check(sys.EpollAdd(a.epfd, fd, events), "sys.EpollAdd(epfd, fd)")
	a.sources[int32(fd)] = src
}

func (a *Agent) loop() {
	events := make([]unix.EpollEvent, maxEvents)
	for !a.stop {
		n, err := sys.EpollWait(a.epfd, events, pollTimeout)
		a.check(err, "sys.EpollWait(epfd)")
		for i := 0; i < n; i++ {
			a.dispatch(events[i])
		}
		if a.inBuf.Len() > 0 {
			a.processMessages()
		}
		a.drainOut()
	}
}

func (a *Agent) dispatch(ev unix.EpollEvent) {
	src, ok := a.sources[ev.Fd]
	if !ok {
		// The source was recycled earlier in this batch.
		return
	}
	switch src.kind {
	case srcSchedIn:
		if ev.Events&unix.EPOLLIN != 0 {
			a.fillInput()
		} else if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			a.stop = true
		}
	case srcSchedOut:
		a.outBlocked = false
	case srcExitRecords:
		a.readExitRecords()
	case srcChildOut:
		a.readChildOut(src.slot)
	}
}

// fillInput appends one read's worth of scheduler bytes to the input
// buffer. EOF raises the stop flag; the loop finishes in-flight work
// before exiting.
func (a *Agent) fillInput() {
	a.inBuf.Compact()
	w := a.inBuf.Writable()
	if len(w) == 0 {
		// No capacity until processing frees some; see processMessages
		// for the stall check.
		return
	}
	n, err := unix.Read(int(a.in.Fd()), w)
	if err == unix.EINTR || err == unix.EAGAIN {
		return
	}
	if err == unix.EIO {
		// Terminal transports report hangup as EIO rather than a zero
		// read.
		a.stop = true
		return
	}
	a.check(err, "read(data_in)")
	if n == 0 {
		a.stop = true
		return
	}
	a.inBuf.Wrote(n)
}

// drainOut writes buffered frames to the output stream until it is
// empty or the stream pushes back. "Would block" sets the blocked flag,
// cleared again by the next writable edge.
func (a *Agent) drainOut() {
	for a.outBuf.Len() > 0 && !a.outBlocked {
		n, err := unix.Write(int(a.out.Fd()), a.outBuf.Bytes())
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			a.outBlocked = true
			return
		}
		if err == unix.EPIPE || err == unix.EIO {
			// The peer is gone; the remaining frames have no reader.
			a.stop = true
			a.outBuf.Consume(a.outBuf.Len())
			return
		}
		a.check(err, "write(data_out)")
		a.outBuf.Consume(n)
	}
}

// ensureOutRoom makes sure at least n bytes of output capacity are
// free, draining if necessary. It reports false when the stream is
// backed up and the caller should leave its data at the source.
func (a *Agent) ensureOutRoom(n int) bool {
	if a.outBuf.Cap()-a.outBuf.Len() >= n {
		return true
	}
	a.drainOut()
	return a.outBuf.Cap()-a.outBuf.Len() >= n
}

func (a *Agent) shutdown() {
	a.logf("exiting")
	// Finish pending drains with the stream back in blocking mode. The
	// peer may already be gone at this point; that still counts as a
	// clean hangup.
	a.check(sys.SetNonblock(int(a.out.Fd()), false), "sys.SetNonblock(data_out, false)")
	for a.outBuf.Len() > 0 {
		n, err := unix.Write(int(a.out.Fd()), a.outBuf.Bytes())
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			break
		}
		a.outBuf.Consume(n)
	}
	a.check(a.exitR.Close(), "close(exit pipe read end)")
	a.check(a.exitW.Close(), "close(exit pipe write end)")
	a.check(unix.Close(a.epfd), "close(epfd)")
}
