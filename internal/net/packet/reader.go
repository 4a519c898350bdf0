package packet

import (
	"encoding/binary"
	"math"
)

// Reader reads wire fields from a payload. Reads past the end never panic:
// they return zero values and latch ErrShortBuffer, which callers check once
// via Err() after a record.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader reads data from offset 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewMessageReader reads a framed message; byte 0 is the message type.
func NewMessageReader(data []byte) *Reader {
	r := &Reader{data: data, off: 1}
	if len(data) == 0 {
		r.off = 0
		r.err = ErrShortBuffer
	}
	return r
}

// Type returns the message type byte of a framed message.
func (r *Reader) Type() MsgType {
	if len(r.data) == 0 {
		return 0
	}
	return MsgType(r.data[0])
}

// Err returns the first error hit by any read.
func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
	r.off = len(r.data)
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.data) {
		r.fail(ErrShortBuffer)
		return false
	}
	return true
}

// ReadUint8 reads 1 byte.
func (r *Reader) ReadUint8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *Reader) ReadBool() bool {
	return r.ReadUint8() != 0
}

// ReadUint16 reads 2 bytes little-endian.
func (r *Reader) ReadUint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// ReadInt32 reads 4 bytes little-endian.
func (r *Reader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

func (r *Reader) ReadUint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *Reader) ReadUint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

func (r *Reader) ReadFloat64() float64 {
	return math.Float64frombits(r.ReadUint64())
}

// ReadUvarint reads a variable-length unsigned integer.
func (r *Reader) ReadUvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := DecodeVarint(r.data[r.off:])
	if err != nil {
		r.fail(err)
		return 0
	}
	r.off += n
	return v
}

// ReadVarint reads a zig-zag encoded signed integer.
func (r *Reader) ReadVarint() int64 {
	return UnZigZag(r.ReadUvarint())
}

// ReadLength reads a varint length and rejects values that cannot fit in the
// remaining payload.
func (r *Reader) ReadLength() int {
	n := r.ReadUvarint()
	if r.err != nil {
		return 0
	}
	if n > uint64(r.Remaining()) {
		r.fail(ErrBadLength)
		return 0
	}
	return int(n)
}

// ReadBlob reads a varint length followed by that many bytes.
func (r *Reader) ReadBlob() []byte {
	return r.ReadBytes(r.ReadLength())
}

// ReadString reads a varint length-prefixed UTF-8 string.
func (r *Reader) ReadString() string {
	return string(r.ReadBlob())
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Skip advances n bytes.
func (r *Reader) Skip(n int) {
	if r.need(n) {
		r.off += n
	}
}

// Sub returns a reader over the next n bytes and advances past them.
func (r *Reader) Sub(n int) *Reader {
	if !r.need(n) {
		return &Reader{err: r.err}
	}
	sub := &Reader{data: r.data[r.off : r.off+n]}
	r.off += n
	return sub
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Data returns the whole underlying payload, including bytes already read.
func (r *Reader) Data() []byte { return r.data }

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.off }
