package packet

import "errors"

// Variable-length unsigned integer layout. The first byte decides the width:
//
//	0..240    value itself                                  (1 byte)
//	241..248  240 + 256*(b0-241) + b1                       (2 bytes, up to 2287)
//	249       2288 + 256*b1 + b2                            (3 bytes, up to 67823)
//	250       b1..b3 little-endian                          (4 bytes)
//	251       b1..b4 little-endian                          (5 bytes)
//	252       b1..b5 little-endian                          (6 bytes)
//	253       b1..b6 little-endian                          (7 bytes)
//	254       b1..b7 little-endian                          (8 bytes)
//	255       b1..b8 little-endian                          (9 bytes)
const (
	varint1Max = 240
	varint2Max = 2287
	varint3Max = 67823
)

// MaxVarintLen is the longest encoding of a 64-bit value.
const MaxVarintLen = 9

var (
	// ErrShortBuffer is returned when a read runs past the end of the payload.
	ErrShortBuffer = errors.New("packet: short buffer")
	// ErrBadLength is returned for negative or oversized length prefixes.
	ErrBadLength = errors.New("packet: bad length")
)

// ZigZag maps signed integers onto unsigned ones so small magnitudes stay small.
func ZigZag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// UnZigZag reverses ZigZag.
func UnZigZag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// VarintLen returns the encoded size of v.
func VarintLen(v uint64) int {
	switch {
	case v <= varint1Max:
		return 1
	case v <= varint2Max:
		return 2
	case v <= varint3Max:
		return 3
	case v < 1<<24:
		return 4
	case v < 1<<32:
		return 5
	case v < 1<<40:
		return 6
	case v < 1<<48:
		return 7
	case v < 1<<56:
		return 8
	default:
		return 9
	}
}

// AppendVarint appends the encoding of v to buf.
func AppendVarint(buf []byte, v uint64) []byte {
	switch {
	case v <= varint1Max:
		return append(buf, byte(v))
	case v <= varint2Max:
		d := v - varint1Max
		return append(buf, byte(d>>8)+241, byte(d))
	case v <= varint3Max:
		d := v - (varint2Max + 1)
		return append(buf, 249, byte(d>>8), byte(d))
	}
	n := VarintLen(v) - 1
	buf = append(buf, byte(250+n-3))
	for i := 0; i < n; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// DecodeVarint decodes a value from the front of buf and returns it with the
// number of bytes consumed.
func DecodeVarint(buf []byte) (uint64, int, error) {
	if len(buf) == 0 {
		return 0, 0, ErrShortBuffer
	}
	b0 := buf[0]
	switch {
	case b0 <= varint1Max:
		return uint64(b0), 1, nil
	case b0 <= 248:
		if len(buf) < 2 {
			return 0, 0, ErrShortBuffer
		}
		return varint1Max + 256*uint64(b0-241) + uint64(buf[1]), 2, nil
	case b0 == 249:
		if len(buf) < 3 {
			return 0, 0, ErrShortBuffer
		}
		return varint2Max + 1 + 256*uint64(buf[1]) + uint64(buf[2]), 3, nil
	}
	n := int(b0-250) + 3
	if len(buf) < n+1 {
		return 0, 0, ErrShortBuffer
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(buf[1+i]) << (8 * i)
	}
	return v, n + 1, nil
}
