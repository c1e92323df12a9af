package agent

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltx/pkg/msgpack"
	"github.com/linux-test-project/ltx/pkg/sys"
)

// logAt writes a diagnostic line to the local stderr and, once the
// output buffer exists, also frames it as a Log message tagged nil ("the
// executor itself"). skip is passed to runtime.Caller and selects the
// frame reported as the origin; the helpers below all sit one frame
// above logAt and pass 3.
func (a *Agent) logAt(skip int, format string, args ...interface{}) {
	text := caller(skip) + " " + fmt.Sprintf(format, args...) + "\n"
	a.diag.WriteString(text)
	if a.outBuf == nil {
		return
	}
	ns, _ := sys.MonotonicNow()
	frame := msgpack.AppendArrayLen(nil, 4)
	frame = msgpack.AppendUint(frame, msgLog)
	frame = msgpack.AppendNil(frame)
	frame = msgpack.AppendUint(frame, ns)
	frame = msgpack.AppendString(frame, text)
	// A full output buffer drops the frame rather than recursing into
	// the fatal path; the line is already on stderr.
	if a.outBuf.Append(frame) == nil {
		a.drainOut()
	}
}

func (a *Agent) logf(format string, args ...interface{}) {
	a.logAt(3, format, args...)
}

// fatalf reports an unrecoverable condition and terminates the process
// with status 1, writing the calling goroutine's stack trace to stderr
// first.
func (a *Agent) fatalf(format string, args ...interface{}) {
	a.logAt(3, format, args...)
	a.dumpStackAndExit()
}

// check terminates the process when a syscall-shaped expression failed.
// expr is the stringified expression, echoed in the diagnostic together
// with the symbolic errno name.
func (a *Agent) check(err error, expr string) {
	if err == nil {
		return
	}
	a.logAt(3, "Not nil: %s = %v: %s", expr, err, errnoName(err))
	a.dumpStackAndExit()
}

func (a *Agent) dumpStackAndExit() {
	a.diag.Write(debug.Stack())
	a.exit(1)
	panic("exit hook returned")
}

// errnoName resolves err to the symbolic name of the underlying errno,
// e.g. "ENOENT". Errors with no errno in their chain yield "?".
func errnoName(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name := unix.ErrnoName(errno); name != "" {
			return name
		}
	}
	return "?"
}

// caller renders the position of the skip-th stack frame in the
// diagnostic prefix format, "[file:function:line]".
func caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "[?:?:0]"
	}
	fn := "?"
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
		if i := strings.LastIndexByte(fn, '.'); i >= 0 {
			fn = fn[i+1:]
		}
	}
	return fmt.Sprintf("[%s:%s:%d]", filepath.Base(file), fn, line)
}
