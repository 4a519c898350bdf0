package request

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
	"go.uber.org/zap"
)

// Code classifies a response.
type Code byte

const (
	CodeDefault Code = iota
	CodeSuccess
	CodeTimeout
	CodeError
	CodeUnimplemented
)

func (c Code) String() string {
	switch c {
	case CodeDefault:
		return "default"
	case CodeSuccess:
		return "success"
	case CodeTimeout:
		return "timeout"
	case CodeError:
		return "error"
	case CodeUnimplemented:
		return "unimplemented"
	default:
		return fmt.Sprintf("code(%d)", byte(c))
	}
}

// Type identifies a request kind. Both peers agree on the numbering.
type Type uint32

// Response is delivered to a continuation exactly once.
type Response struct {
	AckID   uint32
	Code    Code
	From    entity.ConnID
	Payload []byte
}

// Continuation receives the response or a synthetic timeout.
type Continuation func(Response)

// Handler answers an incoming request.
type Handler func(from entity.ConnID, r *packet.Reader) (Code, []byte)

// Sender delivers a message to a peer. A client uses entity.ServerConn for
// the server link.
type Sender interface {
	SendTo(conn entity.ConnID, ch packet.Channel, data []byte)
}

type pending struct {
	conn    entity.ConnID
	issued  time.Time
	timeout time.Duration
	cont    Continuation
}

// Layer correlates requests with responses by ack id. The pending table is
// mutex guarded because responses may be delivered from a transport
// callback; handlers are registered at startup only.
type Layer struct {
	mu      sync.Mutex
	nextAck uint32
	pending map[uint32]*pending

	handlers map[Type]Handler
	sender   Sender
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Layer.
type Option func(*Layer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Layer) { l.now = now }
}

func New(sender Sender, log *zap.Logger, opts ...Option) *Layer {
	l := &Layer{
		pending:  make(map[uint32]*pending),
		handlers: make(map[Type]Handler),
		sender:   sender,
		now:      time.Now,
		log:      log,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Handle registers the handler for t.
func (l *Layer) Handle(t Type, h Handler) {
	l.handlers[t] = h
}

// Send issues a request to conn and returns its ack id. timeout 0 never
// expires.
func (l *Layer) Send(conn entity.ConnID, t Type, payload []byte, timeout time.Duration, cont Continuation) uint32 {
	l.mu.Lock()
	l.nextAck++
	if l.nextAck == 0 {
		l.nextAck = 1
	}
	ack := l.nextAck
	l.pending[ack] = &pending{conn: conn, issued: l.now(), timeout: timeout, cont: cont}
	l.mu.Unlock()

	w := packet.NewMessageWriter(packet.MsgRequest)
	w.WriteUvarint(uint64(t))
	w.WriteUvarint(uint64(ack))
	w.WriteBlob(payload)
	l.sender.SendTo(conn, packet.Reliable, w.Bytes())
	return ack
}

// HandleRequest answers an incoming MsgRequest. Unregistered types get
// CodeUnimplemented.
func (l *Layer) HandleRequest(from entity.ConnID, r *packet.Reader) error {
	t := Type(r.ReadUvarint())
	ack := uint32(r.ReadUvarint())
	body := r.ReadBlob()
	if err := r.Err(); err != nil {
		return fmt.Errorf("request header: %w", err)
	}

	code, out := CodeUnimplemented, []byte(nil)
	if h, ok := l.handlers[t]; ok {
		code, out = h(from, packet.NewReader(body))
	} else {
		l.log.Debug("unimplemented request", zap.Uint32("type", uint32(t)), zap.Int32("from", int32(from)))
	}

	w := packet.NewMessageWriter(packet.MsgResponse)
	w.WriteUvarint(uint64(ack))
	w.WriteUint8(byte(code))
	w.WriteBlob(out)
	l.sender.SendTo(from, packet.Reliable, w.Bytes())
	return nil
}

// HandleResponse completes a pending request. Responses for unknown acks
// (duplicates, or after a timeout) are dropped, as are responses from a
// peer other than the one the request went to.
func (l *Layer) HandleResponse(from entity.ConnID, r *packet.Reader) error {
	ack := uint32(r.ReadUvarint())
	code := Code(r.ReadUint8())
	body := r.ReadBlob()
	if err := r.Err(); err != nil {
		return fmt.Errorf("response header: %w", err)
	}

	p := l.take(ack, from)
	if p == nil {
		l.log.Debug("response for unknown ack", zap.Uint32("ack", ack), zap.Int32("from", int32(from)))
		return nil
	}
	p.fire(Response{AckID: ack, Code: code, From: from, Payload: body})
	return nil
}

// take removes and returns the pending entry for ack if it was sent to
// from. A mismatched entry stays pending.
func (l *Layer) take(ack uint32, from entity.ConnID) *pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[ack]
	if !ok || p.conn != from {
		return nil
	}
	delete(l.pending, ack)
	return p
}

// Sweep fires CodeTimeout for every expired request. Entries are removed
// before their continuation runs.
func (l *Layer) Sweep() int {
	now := l.now()
	type expired struct {
		ack uint32
		p   *pending
	}
	var due []expired

	l.mu.Lock()
	for ack, p := range l.pending {
		if p.timeout > 0 && now.Sub(p.issued) >= p.timeout {
			due = append(due, expired{ack: ack, p: p})
			delete(l.pending, ack)
		}
	}
	l.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ack < due[j].ack })
	for _, d := range due {
		d.p.fire(Response{AckID: d.ack, Code: CodeTimeout, From: d.p.conn})
	}
	return len(due)
}

// Drop fails every request addressed to conn with CodeError. Called when
// the peer disconnects.
func (l *Layer) Drop(conn entity.ConnID) int {
	type dropped struct {
		ack uint32
		p   *pending
	}
	var gone []dropped

	l.mu.Lock()
	for ack, p := range l.pending {
		if p.conn == conn {
			gone = append(gone, dropped{ack: ack, p: p})
			delete(l.pending, ack)
		}
	}
	l.mu.Unlock()

	sort.Slice(gone, func(i, j int) bool { return gone[i].ack < gone[j].ack })
	for _, d := range gone {
		d.p.fire(Response{AckID: d.ack, Code: CodeError, From: conn})
	}
	return len(gone)
}

// Pending returns the number of outstanding requests.
func (l *Layer) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (p *pending) fire(resp Response) {
	if p.cont != nil {
		p.cont(resp)
	}
}
