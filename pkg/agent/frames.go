package agent

import (
	"github.com/linux-test-project/ltx/pkg/msgpack"
	"github.com/linux-test-project/ltx/pkg/sys"
)

// Room reserved for the header bytes around a child-output chunk. The
// worst case is 15: array, type and slot take one byte each, the uint64
// timestamp 9 and the str16 length 3.
const logFrameOverhead = 16

// pushFrame enqueues one whole frame on the output buffer. Overflow is
// fatal: it means the scheduler stopped honouring backpressure.
func (a *Agent) pushFrame(frame []byte) {
	if err := a.outBuf.Append(frame); err != nil {
		a.fatalf("output buffer overflow at %d+%d bytes", a.outBuf.Len(), len(frame))
	}
}

// now reads the monotonic clock stamped into outbound frames.
func (a *Agent) now() uint64 {
	ns, err := sys.MonotonicNow()
	a.check(err, "sys.MonotonicNow()")
	return ns
}

func (a *Agent) pushExecAck(id uint8, path string) {
	b := msgpack.AppendArrayLen(nil, 3)
	b = msgpack.AppendUint(b, msgExec)
	b = msgpack.AppendUint(b, uint64(id))
	b = msgpack.AppendString(b, path)
	a.pushFrame(b)
}

func (a *Agent) pushLog(id uint8, chunk []byte) {
	b := msgpack.AppendArrayLen(nil, 4)
	b = msgpack.AppendUint(b, msgLog)
	b = msgpack.AppendUint(b, uint64(id))
	b = msgpack.AppendUint(b, a.now())
	b = msgpack.AppendStringBytes(b, chunk)
	a.pushFrame(b)
}

func (a *Agent) pushResult(id uint8, code, status uint8) {
	b := msgpack.AppendArrayLen(nil, 5)
	b = msgpack.AppendUint(b, msgResult)
	b = msgpack.AppendUint(b, uint64(id))
	b = msgpack.AppendUint(b, a.now())
	b = msgpack.AppendUint(b, uint64(code))
	b = msgpack.AppendUint(b, uint64(status))
	a.pushFrame(b)
}

func (a *Agent) pushFileAck(path string) {
	b := msgpack.AppendArrayLen(nil, 2)
	b = msgpack.AppendUint(b, msgGetFile)
	b = msgpack.AppendString(b, path)
	a.pushFrame(b)
}
