package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linux-test-project/ltx/pkg/msgpack"
	"github.com/linux-test-project/ltx/pkg/must"
)

// exitCode is the panic payload of the test exit hook, standing in for
// the process exit of a fatal assertion.
type exitCode struct{ code int }

// unservedAgent returns an agent whose buffers can be driven directly,
// without the event loop or any file descriptors registered.
func unservedAgent(t *testing.T) *Agent {
	t.Helper()
	inR, inW := must.Pipe()
	outR, outW := must.Pipe()
	devnull := must.OK1(os.OpenFile(os.DevNull, os.O_RDWR, 0))
	t.Cleanup(func() {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
		devnull.Close()
	})
	a := newAgent(inR, outW, devnull)
	a.exit = func(code int) { panic(exitCode{code}) }
	return a
}

// expectFatal runs f and asserts that it tripped the fatal-assertion
// surface, which in tests panics with the would-be exit status.
func expectFatal(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		switch r := recover().(type) {
		case exitCode:
			if r.code != 1 {
				t.Errorf("fatal exit status %d, want 1", r.code)
			}
		case nil:
			t.Error("expected a fatal exit")
		default:
			panic(r)
		}
	}()
	f()
}

// decodeAny decodes one value of any supported shape, for inspecting
// what the executor put on the wire. Strings and binaries are copied
// out of the reader's buffer.
func decodeAny(r *msgpack.Reader) (interface{}, error) {
	t, err := r.Peek()
	if err != nil {
		return nil, err
	}
	switch {
	case t <= 0x7f, t == 0xcc, t == 0xcd, t == 0xce, t == 0xcf:
		return r.ReadUint()
	case msgpack.IsStrTag(t):
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		return string(s), nil
	case t == 0xc4, t == 0xc6:
		b, err := r.ReadBin()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case msgpack.IsNilTag(t):
		return nil, r.ReadNil()
	case t&0xf0 == 0x90, t == 0xdc:
		n, err := r.ReadArrayLen()
		if err != nil {
			return nil, err
		}
		vs := make([]interface{}, n)
		for i := range vs {
			if vs[i], err = decodeAny(r); err != nil {
				return nil, err
			}
		}
		return vs, nil
	default:
		return nil, fmt.Errorf("unexpected tag %#02x", t)
	}
}

// decodeFrames decodes a byte stream of whole frames.
func decodeFrames(t *testing.T, p []byte) [][]interface{} {
	t.Helper()
	var frames [][]interface{}
	r := msgpack.NewReader(p)
	for r.Rem() > 0 {
		v, err := decodeAny(&r)
		if err != nil {
			t.Fatalf("decoding frames: %v (input % x)", err, p)
		}
		frames = append(frames, v.([]interface{}))
	}
	return frames
}

// Request builders, scheduler side.

func pingMsg() []byte {
	return msgpack.AppendUint(msgpack.AppendArrayLen(nil, 1), msgPing)
}

func execMsg(slot uint8, path string) []byte {
	b := msgpack.AppendArrayLen(nil, 3)
	b = msgpack.AppendUint(b, msgExec)
	b = msgpack.AppendUint(b, uint64(slot))
	return msgpack.AppendString(b, path)
}

func getFileMsg(path string) []byte {
	b := msgpack.AppendArrayLen(nil, 2)
	b = msgpack.AppendUint(b, msgGetFile)
	return msgpack.AppendString(b, path)
}

// mkScript drops an executable shell script into a test directory.
func mkScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	must.WriteFile(path, "#!/bin/sh\n"+body)
	must.OK(os.Chmod(path, 0o755))
	return path
}

// conn drives a live agent over pipe transports, the way a scheduler
// would over SSH or a subprocess pipe.
type conn struct {
	t     *testing.T
	stdin *os.File
	out   *os.File
	buf   []byte
	exitc chan int
	done  bool
	code  int
}

func startAgent(t *testing.T) *conn {
	t.Helper()
	inR, inW := must.Pipe()
	outR, outW := must.Pipe()
	devnull := must.OK1(os.OpenFile(os.DevNull, os.O_RDWR, 0))
	a := newAgent(inR, outW, devnull)
	a.exit = func(code int) { panic(exitCode{code}) }
	c := &conn{t: t, stdin: inW, out: outR, exitc: make(chan int, 1)}
	go func() {
		code := 0
		defer func() {
			if r := recover(); r != nil {
				ec, ok := r.(exitCode)
				if !ok {
					panic(r)
				}
				code = ec.code
			}
			inR.Close()
			outW.Close()
			devnull.Close()
			c.exitc <- code
		}()
		a.main()
	}()
	t.Cleanup(func() {
		c.stdin.Close()
		c.waitExit()
		c.out.Close()
	})
	return c
}

func (c *conn) send(p []byte) {
	c.t.Helper()
	if _, err := c.stdin.Write(p); err != nil {
		c.t.Fatalf("writing to the agent: %v", err)
	}
}

func (c *conn) waitExit() int {
	c.t.Helper()
	if !c.done {
		select {
		case code := <-c.exitc:
			c.code, c.done = code, true
		case <-time.After(10 * time.Second):
			c.t.Fatal("timed out waiting for the agent to exit")
		}
	}
	return c.code
}

// readFrame blocks until one whole frame has arrived.
func (c *conn) readFrame() []interface{} {
	c.t.Helper()
	c.out.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		if len(c.buf) > 0 {
			r := msgpack.NewReader(c.buf)
			v, err := decodeAny(&r)
			if err == nil {
				c.buf = c.buf[r.Pos():]
				frame, ok := v.([]interface{})
				if !ok {
					c.t.Fatalf("top-level value %v is not an array", v)
				}
				return frame
			}
			if !errors.Is(err, msgpack.ErrShort) {
				c.t.Fatalf("malformed frame from the agent: %v (buffered % x)", err, c.buf)
			}
		}
		chunk := make([]byte, 8192)
		n, err := c.out.Read(chunk)
		if err != nil {
			c.t.Fatalf("reading from the agent: %v", err)
		}
		c.buf = append(c.buf, chunk[:n]...)
	}
}

// expectStartupLog consumes the version announcement every run begins
// with.
func (c *conn) expectStartupLog() {
	c.t.Helper()
	assertAgentLog(c.t, c.readFrame(), "Linux Test Executor")
}

// assertAgentLog checks that f is a Log frame from the executor itself
// (slot nil) mentioning substr.
func assertAgentLog(t *testing.T, f []interface{}, substr string) {
	t.Helper()
	if len(f) != 4 || f[0] != interface{}(uint64(msgLog)) || f[1] != nil {
		t.Fatalf("frame %v is not an executor log", f)
	}
	if !strings.Contains(f[3].(string), substr) {
		t.Fatalf("log %q does not mention %q", f[3], substr)
	}
}

// collectUntilResult reads frames until the Result for slot arrives,
// returning the concatenated Log payloads seen for that slot on the
// way.
func (c *conn) collectUntilResult(slot uint8) (logs string, result []interface{}) {
	c.t.Helper()
	for {
		f := c.readFrame()
		switch f[0] {
		case uint64(msgLog):
			if f[1] == interface{}(uint64(slot)) {
				logs += f[3].(string)
			}
		case uint64(msgResult):
			if f[1] == interface{}(uint64(slot)) {
				return logs, f
			}
			c.t.Fatalf("result for unexpected slot: %v", f)
		default:
			c.t.Fatalf("unexpected frame %v while waiting for result", f)
		}
	}
}
