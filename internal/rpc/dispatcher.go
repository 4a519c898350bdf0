package rpc

import (
	"errors"
	"fmt"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
	"go.uber.org/zap"
)

var (
	ErrNotSetup     = errors.New("rpc: entity not set up")
	ErrNoReceiver   = errors.New("rpc: target not subscribed or not connected")
	ErrUnknown      = errors.New("rpc: unknown entity or function")
	ErrUnauthorized = errors.New("rpc: caller does not own entity")
)

// ReceiverKind selects who runs a call.
type ReceiverKind byte

const (
	ToTarget ReceiverKind = iota + 1
	ToAll
	ToServer
)

// Receiver is evaluated at the call site.
type Receiver struct {
	Kind ReceiverKind
	Conn entity.ConnID
}

func Target(conn entity.ConnID) Receiver { return Receiver{Kind: ToTarget, Conn: conn} }

var (
	All    = Receiver{Kind: ToAll, Conn: entity.ServerConn}
	Server = Receiver{Kind: ToServer, Conn: entity.ServerConn}
)

// Sender delivers an RPC message. On a client, conn is always
// entity.ServerConn and means the server link.
type Sender interface {
	SendTo(conn entity.ConnID, ch packet.Channel, data []byte)
}

// Stats counts dispatcher activity.
type Stats struct {
	Sent     uint64
	Invoked  uint64
	Rejected uint64
}

// Dispatcher serializes and fans out remote function calls. Accessed only
// from the tick goroutine.
type Dispatcher struct {
	reg      *entity.Registry
	sender   Sender
	isServer bool
	log      *zap.Logger
	stats    Stats
}

// NewServer returns a dispatcher for the authoritative side.
func NewServer(reg *entity.Registry, sender Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, sender: sender, isServer: true, log: log}
}

// NewClient returns a dispatcher for a remote client.
func NewClient(reg *entity.Registry, sender Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, sender: sender, log: log}
}

// Stats returns counters.
func (d *Dispatcher) Stats() Stats { return d.stats }

// Call invokes fn for recv with args. Values are checked against the
// declared params before anything is sent.
func (d *Dispatcher) Call(fn *Function, recv Receiver, args ...packet.Value) error {
	e := fn.owner
	if e == nil || !e.IsSetup() {
		return fmt.Errorf("%w: %s", ErrNotSetup, fn.Name)
	}
	if err := packet.CheckValues(fn.Params, args); err != nil {
		return fmt.Errorf("call %s: %w", fn.Name, err)
	}
	msg := encode(e.ID, fn.id, recv, entity.ServerConn, args)

	if !d.isServer {
		d.send(entity.ServerConn, msg)
		return nil
	}
	return d.dispatch(e, fn, recv, entity.ServerConn, msg)
}

// dispatch runs a server-side call from caller, either local or forwarded.
// msg must already carry caller in its header.
func (d *Dispatcher) dispatch(e *entity.Entity, fn *Function, recv Receiver, caller entity.ConnID, msg []byte) error {
	switch recv.Kind {
	case ToServer:
		return d.invokeEncoded(fn, caller, msg)

	case ToTarget:
		p, ok := d.reg.Player(recv.Conn)
		if !ok || !receives(p, e) {
			return fmt.Errorf("%w: %d", ErrNoReceiver, recv.Conn)
		}
		if p.Local {
			return d.invokeEncoded(fn, caller, msg)
		}
		d.send(p.ConnID, msg)
		return nil

	case ToAll:
		for _, p := range receivers(d.reg, e) {
			if p.Local {
				continue
			}
			d.send(p.ConnID, msg)
		}
		// the host's own client and a dedicated server both run the hook once
		return d.invokeEncoded(fn, caller, msg)

	default:
		return fmt.Errorf("%w: receiver %d", packet.ErrKindMismatch, recv.Kind)
	}
}

// Handle processes an incoming RPC message from conn. On the server it
// authorizes and routes the call; on a client it runs the hook.
func (d *Dispatcher) Handle(from entity.ConnID, r *packet.Reader) error {
	h, err := decodeHeader(r)
	if err != nil {
		return err
	}
	e, ok := d.reg.Get(h.objectID)
	if !ok {
		d.log.Debug("rpc for unknown entity", zap.Uint32("object_id", uint32(h.objectID)))
		return fmt.Errorf("%w: object %d", ErrUnknown, h.objectID)
	}
	m, ok := e.Member(h.fnID)
	fn, isFn := m.(*Function)
	if !ok || !isFn {
		d.log.Debug("rpc for unknown function",
			zap.Uint32("object_id", uint32(h.objectID)),
			zap.Uint64("function_id", h.fnID),
		)
		return fmt.Errorf("%w: function %d", ErrUnknown, h.fnID)
	}
	args, err := packet.ReadValues(r, fn.Params)
	if err != nil {
		return fmt.Errorf("rpc %s args: %w", fn.Name, err)
	}

	if !d.isServer {
		d.stats.Invoked++
		fn.invoke(h.caller, args)
		return nil
	}

	if !fn.AnyCaller && !e.IsOwnedBy(from) {
		d.stats.Rejected++
		d.log.Debug("rpc rejected",
			zap.String("function", fn.Name),
			zap.Int32("caller", int32(from)),
			zap.Int32("owner", int32(e.Owner)),
		)
		return fmt.Errorf("%w: %s from %d", ErrUnauthorized, fn.Name, from)
	}
	// re-encode from the decoded args so trailing bytes never reach peers
	msg := encode(e.ID, fn.id, h.receiver, from, args)
	return d.dispatch(e, fn, h.receiver, from, msg)
}

// invokeEncoded deserializes msg and runs the hook, so local calls see the
// same values a remote peer would.
func (d *Dispatcher) invokeEncoded(fn *Function, caller entity.ConnID, msg []byte) error {
	r := packet.NewMessageReader(msg)
	if _, err := decodeHeader(r); err != nil {
		return err
	}
	args, err := packet.ReadValues(r, fn.Params)
	if err != nil {
		return fmt.Errorf("rpc %s args: %w", fn.Name, err)
	}
	d.stats.Invoked++
	fn.invoke(caller, args)
	return nil
}

func (d *Dispatcher) send(conn entity.ConnID, msg []byte) {
	d.stats.Sent++
	d.sender.SendTo(conn, packet.Reliable, msg)
}

// receives reports whether p is subscribed to or owns e.
func receives(p *entity.Player, e *entity.Entity) bool {
	return e.HasSubscriber(p.ConnID) || p.Owns(e.ID)
}

// receivers lists subscribed-or-owning players in connection id order.
func receivers(reg *entity.Registry, e *entity.Entity) []*entity.Player {
	var out []*entity.Player
	for _, p := range reg.Players() {
		if receives(p, e) {
			out = append(out, p)
		}
	}
	return out
}
