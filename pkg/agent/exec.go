package agent

import (
	"encoding/binary"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltx/pkg/sys"
)

// launch spawns path in slot id with stdout and stderr merged into a
// fresh pipe. The pipe's read end joins the reactor; the write end
// lives only in the child, which also inherits the executor's input
// stream as its stdin.
func (a *Agent) launch(id uint8, path string) {
	r, w, err := os.Pipe()
	a.check(err, "os.Pipe()")
	a.check(sys.SetNonblock(int(r.Fd()), true), "sys.SetNonblock(child pipe)")
	a.register(int(r.Fd()), unix.EPOLLIN, source{kind: srcChildOut, slot: id})

	proc, err := os.StartProcess(path, []string{path}, &os.ProcAttr{
		Files: []*os.File{a.in, w, w},
	})
	a.check(err, "os.StartProcess(path)")
	a.check(w.Close(), "close(child pipe write end)")
	a.check(a.table.allocate(id, proc.Pid, r), "table.allocate(id, pid, pipe)")
	a.table.slot(id).proc = proc

	go reportExit(proc, a.exitW)
}

// reportExit waits for one child and writes a single fixed-size exit
// record to the reactor's exit pipe. It runs off the event loop and
// touches no agent state; records up to PIPE_BUF are written atomically,
// which the reader side depends on.
func reportExit(proc *os.Process, w *os.File) {
	var rec [exitRecSize]byte
	binary.LittleEndian.PutUint32(rec[:4], uint32(proc.Pid))
	state, err := proc.Wait()
	if err != nil {
		// The wait status is lost; report a synthetic failure.
		rec[4], rec[5] = sys.CLD_EXITED, 255
		w.Write(rec[:])
		return
	}
	ws := state.Sys().(syscall.WaitStatus)
	switch {
	case ws.Exited():
		rec[4], rec[5] = sys.CLD_EXITED, uint8(ws.ExitStatus())
	case ws.Signaled() && ws.CoreDump():
		rec[4], rec[5] = sys.CLD_DUMPED, uint8(ws.Signal())
	case ws.Signaled():
		rec[4], rec[5] = sys.CLD_KILLED, uint8(ws.Signal())
	}
	w.Write(rec[:])
}

// readExitRecords consumes every pending record from the exit pipe. The
// pipe carries fixed-size records written atomically; a read that is not
// a whole number of records means that assumption broke.
func (a *Agent) readExitRecords() {
	var buf [32 * exitRecSize]byte
	for {
		n, err := unix.Read(int(a.exitR.Fd()), buf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		a.check(err, "read(exit pipe)")
		if n <= 0 || n%exitRecSize != 0 {
			a.fatalf("exit record read not atomic? n = %d", n)
		}
		for off := 0; off < n; off += exitRecSize {
			a.handleExitRecord(buf[off : off+exitRecSize])
		}
	}
}

func (a *Agent) handleExitRecord(rec []byte) {
	pid := int(binary.LittleEndian.Uint32(rec[:4]))
	id := a.table.findByPid(pid)
	if id < 0 {
		a.fatalf("exit record for unknown pid %d", pid)
	}
	c := a.table.slot(uint8(id))
	c.exited = true
	c.siCode, c.siStatus = rec[4], rec[5]
	a.finishIfDone(uint8(id))
}

// readChildOut moves up to one bounded chunk of child output into the
// output buffer as a Log frame. On EOF the pipe is retired and the slot
// becomes eligible for its Result.
func (a *Agent) readChildOut(id uint8) {
	c := a.table.slot(id)
	if c.rd == nil {
		return
	}
	// When the output side has no room, leave the data in the pipe; the
	// level-triggered registration re-reports it.
	if !a.ensureOutRoom(childChunk + logFrameOverhead) {
		return
	}
	var chunk [childChunk]byte
	n, err := unix.Read(int(c.rd.Fd()), chunk[:])
	if err == unix.EAGAIN || err == unix.EINTR {
		return
	}
	a.check(err, "read(child pipe)")
	if n > 0 {
		a.pushLog(id, chunk[:n])
		return
	}
	fd := int(c.rd.Fd())
	a.check(sys.EpollDel(a.epfd, fd), "sys.EpollDel(child pipe)")
	delete(a.sources, int32(fd))
	a.check(c.rd.Close(), "close(child pipe)")
	c.rd = nil
	c.eof = true
	a.finishIfDone(id)
}

// finishIfDone emits the Result frame and recycles the slot once both
// the exit record has arrived and the pipe has hit EOF. Deferring to the
// later of the two keeps the Result behind every Log frame the child
// produced.
func (a *Agent) finishIfDone(id uint8) {
	c := a.table.slot(id)
	if !c.exited || !c.eof {
		return
	}
	a.pushResult(id, c.siCode, c.siStatus)
	a.check(a.table.free(id), "table.free(id)")
}
