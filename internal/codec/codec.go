/*
Package codec implements the fixed-width, big-endian framing used to read
and write values into caller-supplied byte ranges.

This is intentionally the one layer of the engine that does not reach for a
third-party serialization library: every buffer it operates on is owned by
the host process and handed to the engine by raw address for the duration
of exactly one request/response cycle, so the codec
must work against an existing []byte and an explicit cursor rather than
allocate or own anything. encoding/binary's BigEndian helpers plus a
position cursor are the idiomatic Go shape for that; no framing library in
the example corpus models "read/write into someone else's slice at an
explicit offset."

In this module the codec frames the dependency and user-function row
payloads in internal/exec. The request framing in internal/wire does not
use it: wire writes its own [u32 msg_size][u32 command_code] header with
encoding/binary directly.
*/
package codec

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrBufferUnderflow is returned when a read would run past the end of the
// buffer's valid region.
var ErrBufferUnderflow = errors.New("codec: buffer underflow")

// ErrBufferOverflow is returned when a write would exceed the buffer's
// capacity. No caller in this module swaps in a larger buffer on
// overflow; the error is returned to the writer.
var ErrBufferOverflow = errors.New("codec: buffer overflow")

// Buffer is a fixed-capacity byte range with an explicit read/write cursor.
// It never grows; a caller can rebind it to a larger slice with
// ResetWithPosition.
type Buffer struct {
	buf []byte
	pos int
	cap int
}

// NewBuffer wraps an existing slice for framed reads/writes. The slice's
// length is the buffer's capacity; pos starts at 0.
func NewBuffer(buf []byte) *Buffer {
	return &Buffer{buf: buf, pos: 0, cap: len(buf)}
}

// Position returns the current cursor offset.
func (b *Buffer) Position() int { return b.pos }

// Capacity returns the total usable length of the underlying slice.
func (b *Buffer) Capacity() int { return b.cap }

// Bytes returns the underlying slice, valid up to Capacity (not Position).
func (b *Buffer) Bytes() []byte { return b.buf }

// ResetWithPosition rebinds the buffer to a new slice/capacity/position
// triple, keeping the bytes already written when buf holds a copy of
// them.
func (b *Buffer) ResetWithPosition(buf []byte, capacity, pos int) {
	b.buf = buf
	b.cap = capacity
	b.pos = pos
}

// Reset rewinds the cursor to the start without touching the backing slice.
func (b *Buffer) Reset() { b.pos = 0 }

func (b *Buffer) requireRead(n int) error {
	if b.pos+n > len(b.buf) {
		return ErrBufferUnderflow
	}
	return nil
}

func (b *Buffer) requireWrite(n int) error {
	if b.pos+n > b.cap {
		return ErrBufferOverflow
	}
	return nil
}

// ReadI16 reads a big-endian int16 and advances the cursor.
func (b *Buffer) ReadI16() (int16, error) {
	if err := b.requireRead(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(b.buf[b.pos:]))
	b.pos += 2
	return v, nil
}

// ReadI32 reads a big-endian int32 and advances the cursor.
func (b *Buffer) ReadI32() (int32, error) {
	if err := b.requireRead(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(b.buf[b.pos:]))
	b.pos += 4
	return v, nil
}

// ReadI64 reads a big-endian int64 and advances the cursor.
func (b *Buffer) ReadI64() (int64, error) {
	if err := b.requireRead(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(b.buf[b.pos:]))
	b.pos += 8
	return v, nil
}

// ReadBytes reads n raw bytes and advances the cursor. The returned slice
// aliases the buffer; callers that need to retain it across a Reset must
// copy it first.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Errorf("codec: negative read length %d", n)
	}
	if err := b.requireRead(n); err != nil {
		return nil, err
	}
	v := b.buf[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

// WriteI16 writes a big-endian int16 and advances the cursor.
func (b *Buffer) WriteI16(v int16) error {
	if err := b.requireWrite(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.buf[b.pos:], uint16(v))
	b.pos += 2
	return nil
}

// WriteI32 writes a big-endian int32 and advances the cursor.
func (b *Buffer) WriteI32(v int32) error {
	if err := b.requireWrite(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.buf[b.pos:], uint32(v))
	b.pos += 4
	return nil
}

// WriteI64 writes a big-endian int64 and advances the cursor.
func (b *Buffer) WriteI64(v int64) error {
	if err := b.requireWrite(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.buf[b.pos:], uint64(v))
	b.pos += 8
	return nil
}

// WriteBytes writes raw bytes and advances the cursor.
func (b *Buffer) WriteBytes(v []byte) error {
	if err := b.requireWrite(len(v)); err != nil {
		return err
	}
	copy(b.buf[b.pos:], v)
	b.pos += len(v)
	return nil
}

// WriteString writes a length-prefixed (int32) UTF-8 string.
func (b *Buffer) WriteString(s string) error {
	if err := b.WriteI32(int32(len(s))); err != nil {
		return err
	}
	return b.WriteBytes([]byte(s))
}

// ReadString reads a length-prefixed (int32) UTF-8 string.
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadI32()
	if err != nil {
		return "", err
	}
	raw, err := b.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
