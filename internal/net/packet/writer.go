package packet

import (
	"encoding/binary"
	"math"
)

// Writer builds a wire payload. All fixed-width writes are little-endian.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// NewMessageWriter starts a framed message with its type byte.
func NewMessageWriter(t MsgType) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.WriteUint8(byte(t))
	return w
}

// WriteUint8 writes 1 byte.
func (w *Writer) WriteUint8(v byte) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

// WriteUint16 writes 2 bytes little-endian.
func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteInt32 writes 4 bytes little-endian.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

// WriteUvarint writes a variable-length unsigned integer.
func (w *Writer) WriteUvarint(v uint64) {
	w.buf = AppendVarint(w.buf, v)
}

// WriteVarint writes a zig-zag encoded signed integer.
func (w *Writer) WriteVarint(v int64) {
	w.buf = AppendVarint(w.buf, ZigZag(v))
}

// WriteBlob writes a varint length followed by b.
func (w *Writer) WriteBlob(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString writes a varint length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Reserve32 writes a 4-byte placeholder and returns its offset for PatchInt32.
func (w *Writer) Reserve32() int {
	off := len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	return off
}

// PatchInt32 overwrites a placeholder written by Reserve32.
func (w *Writer) PatchInt32(off int, v int32) {
	binary.LittleEndian.PutUint32(w.buf[off:], uint32(v))
}

// Bytes returns the written payload.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset empties the writer, keeping its buffer.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}
