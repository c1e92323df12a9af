package agent

import (
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltx/pkg/msgpack"
	"github.com/linux-test-project/ltx/pkg/sys"
)

// sendFile streams the contents of path to the scheduler: a Get-file
// acknowledgement, then a Data frame whose binary payload is exactly the
// file. The payload bypasses the output buffer — the stream is switched
// to blocking for the duration so the transfer is guaranteed to
// complete, and the bytes are spliced straight from the file.
func (a *Agent) sendFile(path string) {
	f, err := os.Open(path)
	a.check(err, "os.Open(path)")
	defer func() {
		a.check(f.Close(), "close(file)")
	}()
	info, err := f.Stat()
	a.check(err, "file.Stat()")
	size := info.Size()
	if size > math.MaxUint32 {
		a.fatalf("%s is %d bytes, above the bin32 limit", path, size)
	}

	a.pushFileAck(path)
	hdr := msgpack.AppendArrayLen(nil, 2)
	hdr = msgpack.AppendUint(hdr, msgData)
	hdr = msgpack.AppendBinLen(hdr, int(size))
	a.pushFrame(hdr)

	outFd := int(a.out.Fd())
	a.check(sys.SetNonblock(outFd, false), "sys.SetNonblock(data_out, false)")
	defer func() {
		a.check(sys.SetNonblock(outFd, true), "sys.SetNonblock(data_out, true)")
	}()

	// Everything queued so far must hit the wire before the payload.
	for a.outBuf.Len() > 0 {
		n, err := unix.Write(outFd, a.outBuf.Bytes())
		if err == unix.EINTR {
			continue
		}
		a.check(err, "write(data_out)")
		a.outBuf.Consume(n)
	}
	a.outBlocked = false

	for sent := int64(0); sent < size; {
		n, err := sys.Sendfile(outFd, int(f.Fd()), int(min(size-sent, 1<<30)))
		if err == unix.EINTR {
			continue
		}
		if err == unix.EINVAL || err == unix.ENOSYS {
			// The transport does not take splices (a tty, say); fall
			// back to plain reads and writes.
			a.copyFile(f, size-sent)
			return
		}
		a.check(err, "sys.Sendfile(data_out, file)")
		sent += int64(n)
	}
}

func (a *Agent) copyFile(f *os.File, remain int64) {
	buf := make([]byte, 32*1024)
	for remain > 0 {
		n, err := f.Read(buf[:int(min(remain, int64(len(buf))))])
		a.check(err, "file.Read(buf)")
		for off := 0; off < n; {
			w, err := unix.Write(int(a.out.Fd()), buf[off:n])
			if err == unix.EINTR {
				continue
			}
			a.check(err, "write(data_out)")
			off += w
		}
		remain -= int64(n)
	}
}
