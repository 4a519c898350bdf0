package net

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
	"go.uber.org/zap"
)

// Inbound is one decoded message waiting for the game loop.
type Inbound struct {
	Channel packet.Channel
	Data    []byte
}

type outbound struct {
	ch   packet.Channel
	data []byte
}

// Options sizes a session's queues and limits.
type Options struct {
	InQueueSize      int
	OutQueueSize     int
	MaxPacketsPerSec int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int
}

// Session represents a single peer connection. Network I/O runs in
// dedicated goroutines; game state is accessed only from the game loop.
type Session struct {
	ID      entity.ConnID
	TraceID uuid.UUID

	conn  Conn
	codec *FrameCodec

	state      atomic.Int32 // packet.SessionState stored as int32
	stateAtEnd atomic.Int32 // state when Close ran

	InQueue  chan Inbound // game loop reads messages from here
	OutQueue chan []byte  // writer goroutine reads encoded frames from here

	RemoteAddr  string
	ConnectedAt time.Time

	outBuf   []outbound // buffered messages, flushed by OutputSystem (game loop only)
	dropped  atomic.Uint64
	inflight atomic.Int32 // frames queued or being written

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// per-second rate limiter (readLoop goroutine only)
	pktPerSec  int
	pktCount   int
	pktResetAt int64

	log *zap.Logger
}

func NewSession(conn Conn, id entity.ConnID, codec *FrameCodec, opts Options, log *zap.Logger) *Session {
	trace := uuid.New()
	s := &Session{
		ID:          id,
		TraceID:     trace,
		conn:        conn,
		codec:       codec,
		InQueue:     make(chan Inbound, opts.InQueueSize),
		OutQueue:    make(chan []byte, opts.OutQueueSize),
		RemoteAddr:  conn.RemoteAddr(),
		ConnectedAt: time.Now(),
		closeCh:     make(chan struct{}),
		pktPerSec:   opts.MaxPacketsPerSec,
		log:         log.With(zap.Int32("conn", int32(id)), zap.Stringer("trace", trace)),
	}
	s.state.Store(int32(packet.StateHandshake))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a message. It is not handed to the writer until FlushOutput.
// Game loop only.
func (s *Session) Send(ch packet.Channel, data []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, outbound{ch: ch, data: data})
}

// FlushOutput encodes buffered messages onto OutQueue. A full queue drops
// unreliable messages and disconnects the session for reliable ones.
func (s *Session) FlushOutput() {
	for _, m := range s.outBuf {
		frame := s.codec.Encode(m.ch, m.data)
		s.inflight.Add(1)
		select {
		case s.OutQueue <- frame:
		default:
			s.inflight.Add(-1)
			if m.ch == packet.Unreliable {
				s.dropped.Add(1)
				continue
			}
			s.log.Warn("output queue full, disconnecting slow peer")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Dropped returns the number of unreliable messages discarded under
// backpressure.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stateAtEnd.Store(s.state.Load())
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
	})
}

// CloseAfter closes the session once every flushed frame was written, or
// when grace expires.
func (s *Session) CloseAfter(grace time.Duration) {
	go func() {
		deadline := time.NewTimer(grace)
		defer deadline.Stop()
		poll := time.NewTicker(5 * time.Millisecond)
		defer poll.Stop()
		for s.inflight.Load() > 0 {
			select {
			case <-poll.C:
			case <-deadline.C:
				s.Close()
				return
			case <-s.closeCh:
				return
			}
		}
		s.Close()
	}()
}

// LastActiveState returns the state the session was in when it closed, or
// the current state while open.
func (s *Session) LastActiveState() packet.SessionState {
	if !s.closed.Load() {
		return s.State()
	}
	return packet.SessionState(s.stateAtEnd.Load())
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.closeCh }

func (s *Session) readLoop() {
	defer s.Close()

	for {
		frame, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		ch, payload, err := s.codec.Decode(frame)
		if err != nil {
			s.log.Debug("bad frame dropped", zap.Error(err))
			continue
		}

		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("packet rate exceeded, disconnecting", zap.Int("pps", s.pktCount))
				return
			}
		}

		// Blocking only stalls this peer's reader.
		select {
		case s.InQueue <- Inbound{Channel: ch, Data: payload}:
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case frame := <-s.OutQueue:
			err := s.conn.WriteMessage(frame)
			s.inflight.Add(-1)
			if err != nil {
				if !s.closed.Load() {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
