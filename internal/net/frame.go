package net

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/replinet/server/internal/net/packet"
)

// Frame layout: [flags:1][channel:1][payload]. Flag bit 0 marks a zstd
// compressed payload.
const (
	frameHeaderLen       = 2
	flagCompressed  byte = 1 << 0
)

var (
	ErrShortFrame    = errors.New("frame shorter than header")
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// FrameCodec wraps outgoing messages in frames, compressing payloads at or
// above the threshold. Safe for concurrent use.
type FrameCodec struct {
	threshold int // 0 disables compression
	maxSize   int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

func NewFrameCodec(threshold, maxSize int) (*FrameCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxSize)), zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &FrameCodec{threshold: threshold, maxSize: maxSize, enc: enc, dec: dec}, nil
}

// Encode frames payload for ch.
func (c *FrameCodec) Encode(ch packet.Channel, payload []byte) []byte {
	if c.threshold > 0 && len(payload) >= c.threshold {
		out := make([]byte, frameHeaderLen, frameHeaderLen+len(payload)/2)
		out[0] = flagCompressed
		out[1] = byte(ch)
		out = c.enc.EncodeAll(payload, out)
		// keep the plain frame when compression does not pay off
		if len(out) < frameHeaderLen+len(payload) {
			return out
		}
	}
	out := make([]byte, frameHeaderLen+len(payload))
	out[1] = byte(ch)
	copy(out[frameHeaderLen:], payload)
	return out
}

// Decode unwraps a frame.
func (c *FrameCodec) Decode(frame []byte) (packet.Channel, []byte, error) {
	if len(frame) < frameHeaderLen {
		return 0, nil, ErrShortFrame
	}
	if len(frame) > c.maxSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	flags, ch := frame[0], packet.Channel(frame[1])
	body := frame[frameHeaderLen:]
	if flags&flagCompressed == 0 {
		return ch, body, nil
	}
	out, err := c.dec.DecodeAll(body, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("decompress frame: %w", err)
	}
	if len(out) > c.maxSize {
		return 0, nil, fmt.Errorf("%w: %d bytes decompressed", ErrFrameTooLarge, len(out))
	}
	return ch, out, nil
}

// Close releases the zstd workers.
func (c *FrameCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}
