package agent

import (
	"errors"
	"fmt"

	"github.com/linux-test-project/ltx/pkg/msgpack"
)

// Message types on the wire. Every message is an array whose first
// element is one of these.
const (
	msgPing    = 0
	msgPong    = 1
	msgEnv     = 2
	msgExec    = 3
	msgLog     = 4
	msgResult  = 5
	msgGetFile = 6
	msgSetFile = 7
	msgData    = 8
)

// processMessages consumes as many whole messages from the input buffer
// as possible. A truncated tail message stays buffered for the next
// readiness pass; anything else that fails to decode is fatal — the
// executor never tries to resynchronize.
func (a *Agent) processMessages() {
	for a.inBuf.Len() > 0 {
		if a.outBuf.Len() >= outHighWater {
			a.drainOut()
			if a.outBuf.Len() >= outHighWater {
				// The stream is backed up; let the scheduler catch up
				// before decoding more work.
				break
			}
		}
		r := msgpack.NewReader(a.inBuf.Bytes())
		err := a.processOne(&r)
		if errors.Is(err, msgpack.ErrShort) {
			if a.inBuf.Len() == a.inBuf.Cap() {
				a.fatalf("message larger than the input buffer")
			}
			break
		}
		if err != nil {
			a.fatalf("%v", err)
		}
		a.inBuf.Consume(r.Pos())
	}
	a.inBuf.Compact()
}

// processOne decodes and acts on a single message. It must not touch
// agent state before the whole message has decoded, so that ErrShort
// leaves nothing half-done when the cursor is discarded.
func (a *Agent) processOne(r *msgpack.Reader) error {
	n, err := r.ReadArrayLen()
	if err != nil {
		return err
	}
	if n < 1 {
		return errors.New("empty message array")
	}
	typ, err := r.ReadUint()
	if err != nil {
		return err
	}
	switch typ {
	case msgPing:
		if n != 1 {
			return fmt.Errorf("ping carries %d elements", n)
		}
		a.handlePing()
		return nil
	case msgPong, msgLog, msgResult:
		return fmt.Errorf("message type %d is not handled by the executor", typ)
	case msgEnv:
		return errors.New("env is reserved")
	case msgExec:
		return a.handleExec(r, n)
	case msgGetFile:
		if n != 2 {
			return fmt.Errorf("get-file carries %d elements", n)
		}
		return a.handleGetFile(r)
	case msgSetFile, msgData:
		return fmt.Errorf("message type %d is reserved", typ)
	default:
		return fmt.Errorf("unknown message type %d", typ)
	}
}

// handlePing echoes the ping and follows it with a timestamped pong,
// both enqueued before any further message is looked at.
func (a *Agent) handlePing() {
	a.pushFrame(msgpack.AppendUint(msgpack.AppendArrayLen(nil, 1), msgPing))
	pong := msgpack.AppendArrayLen(nil, 2)
	pong = msgpack.AppendUint(pong, msgPong)
	pong = msgpack.AppendUint(pong, a.now())
	a.pushFrame(pong)
}

// handleExec validates an exec request, echoes it back as the
// acknowledgement, and launches the program in the named slot.
func (a *Agent) handleExec(r *msgpack.Reader, n int) error {
	if n < 3 {
		return fmt.Errorf("exec carries %d elements", n)
	}
	slot, err := r.ReadUint()
	if err != nil {
		return err
	}
	t, err := r.Peek()
	if err != nil {
		return err
	}
	if !msgpack.IsShortStrTag(t) {
		return fmt.Errorf("exec path must be fixstr or str8, got tag %#02x", t)
	}
	pathView, err := r.ReadString()
	if err != nil {
		return err
	}
	// The protocol reserves room for argv, but passing it is not
	// implemented: only nil placeholders are accepted.
	for i := 3; i < n; i++ {
		t, err := r.Peek()
		if err != nil {
			return err
		}
		if !msgpack.IsNilTag(t) {
			return errors.New("exec arguments are not implemented")
		}
		if err := r.ReadNil(); err != nil {
			return err
		}
	}
	if slot >= numSlots {
		return fmt.Errorf("table id %d out of range", slot)
	}
	id := uint8(slot)
	if a.table.live(id) {
		return fmt.Errorf("slot %d already occupied", id)
	}
	path := string(pathView)
	a.pushExecAck(id, path)
	a.launch(id, path)
	return nil
}

func (a *Agent) handleGetFile(r *msgpack.Reader) error {
	pathView, err := r.ReadString()
	if err != nil {
		return err
	}
	a.sendFile(string(pathView))
	return nil
}
