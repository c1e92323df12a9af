// Package iobuf provides the fixed-capacity byte buffers sitting between
// the executor and its standard streams.
//
// A Buffer is a single-producer, single-consumer window over a fixed
// backing array: bytes are appended at the tail and consumed at the head.
// It never grows. The executor treats running out of room as a contract
// violation by its peer, so Append reports overflow instead of
// reallocating.
package iobuf

import "errors"

// ErrOverflow is returned by Append when the payload does not fit in the
// remaining capacity.
var ErrOverflow = errors.New("iobuf: buffer overflow")

// Buffer is a fixed-capacity byte buffer with head and tail cursors.
type Buffer struct {
	data  []byte
	start int
	used  int
}

// New returns a Buffer with the given fixed capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int { return b.used }

// Bytes returns a view of the unconsumed bytes. The view is invalidated
// by Compact and Append.
func (b *Buffer) Bytes() []byte {
	return b.data[b.start : b.start+b.used]
}

// Writable returns the spare room after the unconsumed bytes. Fill a
// prefix of it and call Wrote. Compact first to make all spare capacity
// reachable.
func (b *Buffer) Writable() []byte {
	return b.data[b.start+b.used:]
}

// Wrote records that n bytes of the Writable view were filled.
func (b *Buffer) Wrote(n int) {
	if n < 0 || n > len(b.Writable()) {
		panic("iobuf: Wrote beyond writable window")
	}
	b.used += n
}

// Append copies p into the buffer, compacting first if that is what it
// takes to make room. Returns ErrOverflow if p does not fit even then.
func (b *Buffer) Append(p []byte) error {
	if len(p) > b.Cap()-b.used {
		return ErrOverflow
	}
	if len(p) > len(b.Writable()) {
		b.Compact()
	}
	copy(b.Writable(), p)
	b.used += len(p)
	return nil
}

// Consume discards n bytes from the head. When the buffer drains
// completely the head cursor snaps back to the origin, so steady-state
// consumers rarely pay for a Compact.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.used {
		panic("iobuf: Consume beyond content")
	}
	b.start += n
	b.used -= n
	if b.used == 0 {
		b.start = 0
	}
}

// Compact moves the unconsumed bytes to the origin of the backing array.
// Any view previously returned by Bytes or Writable is invalidated.
func (b *Buffer) Compact() {
	if b.start == 0 {
		return
	}
	copy(b.data, b.data[b.start:b.start+b.used])
	b.start = 0
}
