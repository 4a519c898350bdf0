package syncvar

import (
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
)

// StepState throttles duplicate transmissions of one element.
type StepState uint8

const (
	StepNone       StepState = iota // idle
	StepSyncing                     // sent unreliably, awaiting a reliable confirmation
	StepConfirming                  // sent reliably, holding off further sends for one interval
)

func (s StepState) String() string {
	switch s {
	case StepSyncing:
		return "syncing"
	case StepConfirming:
		return "confirming"
	default:
		return "none"
	}
}

// SendKind is the outcome of one Advance call.
type SendKind uint8

const (
	SendNone SendKind = iota
	SendUnreliable
	SendReliable
)

// Element is a replicated field or collection in an entity's member table.
type Element interface {
	entity.Member
	State() *Base
	// Serialize writes the element's full current value.
	Serialize(w *packet.Writer)
	// Apply reads a value written by Serialize. The value is always consumed;
	// it only mutates the element when tick is newer than the last applied one.
	Apply(tick uint32, r *packet.Reader) error
}

// Elements returns the sync elements in e's member table, in element id order.
func Elements(e *entity.Entity) []Element {
	var out []Element
	for _, m := range e.Members() {
		if el, ok := m.(Element); ok {
			out = append(out, el)
		}
	}
	return out
}

// Base carries the bookkeeping shared by every element kind.
type Base struct {
	self    Element
	owner   *entity.Entity
	id      uint8
	channel uint8

	step         StepState
	dirty        bool
	lastSendTick uint32
	sentReliable bool
	lastApplied  uint32

	// OnChange fires after a received value is applied.
	OnChange func()
}

func (b *Base) bind(self Element, e *entity.Entity, id uint8) {
	b.self, b.owner, b.id = self, e, id
}

// ID returns the element id within its entity.
func (b *Base) ID() uint8 { return b.id }

// Entity returns the owning entity.
func (b *Base) Entity() *entity.Entity { return b.owner }

// Channel returns the channel id.
func (b *Base) Channel() uint8 { return b.channel }

// Step returns the throttle state.
func (b *Base) Step() StepState { return b.step }

// Dirty reports whether the value changed since it was last transmitted.
func (b *Base) Dirty() bool { return b.dirty }

// Settled reports whether the element can leave the active-update set.
func (b *Base) Settled() bool { return b.step == StepNone && !b.dirty }

// CanDelta reports whether receivers hold a reliable copy to patch.
func (b *Base) CanDelta() bool { return b.sentReliable }

// LastApplied returns the tick of the last applied remote value.
func (b *Base) LastApplied() uint32 { return b.lastApplied }

// MarkSentReliable records that a reliable full copy went out, e.g. inside a
// Spawn state.
func (b *Base) MarkSentReliable() { b.sentReliable = true }

// MarkSpawned records that the current value travels inside a Spawn state,
// so there is nothing left to send.
func (b *Base) MarkSpawned() {
	b.dirty = false
	b.sentReliable = true
}

func (b *Base) changed() {
	b.dirty = true
	if b.owner != nil {
		b.owner.MarkDirty(b.self)
	}
}

// Advance decides whether the element transmits this tick and moves the
// step state. All timing is in ticks.
func (b *Base) Advance(tick uint32, ch Channel, baselineDue bool) SendKind {
	elapsed := tick-b.lastSendTick >= ch.SendInterval

	if b.dirty && (ch.ReliableOnly || !b.sentReliable) {
		if !baselineDue {
			return SendNone
		}
		b.sent(tick, SendReliable)
		return SendReliable
	}
	if b.dirty && baselineDue {
		b.sent(tick, SendReliable)
		return SendReliable
	}

	switch b.step {
	case StepNone:
		if b.dirty {
			b.sent(tick, SendUnreliable)
			return SendUnreliable
		}
	case StepSyncing:
		if elapsed {
			b.sent(tick, SendReliable)
			return SendReliable
		}
	case StepConfirming:
		if elapsed {
			if b.dirty {
				b.sent(tick, SendUnreliable)
				return SendUnreliable
			}
			b.step = StepNone
		}
	}
	return SendNone
}

func (b *Base) sent(tick uint32, kind SendKind) {
	b.dirty = false
	b.lastSendTick = tick
	if kind == SendReliable {
		b.step = StepConfirming
		b.sentReliable = true
		return
	}
	b.step = StepSyncing
}

// accept applies staleness rejection: values from ticks at or before the last
// applied one are dropped.
func (b *Base) accept(tick uint32) bool {
	if b.lastApplied != 0 && tick <= b.lastApplied {
		return false
	}
	b.lastApplied = tick
	return true
}

func (b *Base) notify() {
	if b.OnChange != nil {
		b.OnChange()
	}
}

// Reset returns the element to its freshly spawned bookkeeping state.
func (b *Base) Reset() {
	b.step = StepNone
	b.dirty = false
	b.lastSendTick = 0
	b.sentReliable = false
	b.lastApplied = 0
}
