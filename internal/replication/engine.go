package replication

import (
	"sort"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/syncvar"
	"go.uber.org/zap"
)

// Sender delivers an encoded message to one connection.
type Sender interface {
	SendTo(conn entity.ConnID, ch packet.Channel, data []byte)
}

// Config tunes the engine.
type Config struct {
	BaselineInterval uint32 // ticks between baselines
	Safe             bool   // length-prefix every element payload
}

// Stats counts outgoing sync traffic.
type Stats struct {
	BaselinePackets uint64
	DeltaPackets    uint64
	Bytes           uint64
}

// Engine batches dirty sync elements and lifecycle states per observer and
// channel into SyncBaseline (reliable) and SyncDelta (unreliable) packets.
// It registers itself as a registry hook. Accessed only from the tick
// goroutine.
type Engine struct {
	reg      *entity.Registry
	channels *syncvar.Channels
	sender   Sender
	cfg      Config
	log      *zap.Logger

	observers    map[entity.ConnID]*observer
	active       map[syncvar.Element]struct{}
	cache        map[syncvar.Element][]byte
	lastBaseline uint32
	stats        Stats
}

func NewEngine(reg *entity.Registry, channels *syncvar.Channels, sender Sender, cfg Config, log *zap.Logger) *Engine {
	if cfg.BaselineInterval == 0 {
		cfg.BaselineInterval = 1
	}
	en := &Engine{
		reg:       reg,
		channels:  channels,
		sender:    sender,
		cfg:       cfg,
		log:       log,
		observers: make(map[entity.ConnID]*observer),
		active:    make(map[syncvar.Element]struct{}),
		cache:     make(map[syncvar.Element][]byte),
	}
	reg.AddHook(en)
	return en
}

// Stats returns traffic counters.
func (en *Engine) Stats() Stats { return en.stats }

// ActiveCount returns the number of elements still in the update set.
func (en *Engine) ActiveCount() int { return len(en.active) }

// Pending returns the number of pending states queued for conn.
func (en *Engine) Pending(conn entity.ConnID) int {
	if o, ok := en.observers[conn]; ok {
		return o.pending()
	}
	return 0
}

func (en *Engine) observer(p *entity.Player) *observer {
	if p.Local {
		return nil
	}
	o, ok := en.observers[p.ConnID]
	if !ok {
		o = newObserver(p.ConnID, en.channels.Len())
		en.observers[p.ConnID] = o
	}
	return o
}

// MarkDirty implements entity.DirtyHook.
func (en *Engine) MarkDirty(_ *entity.Entity, m entity.Member) {
	if el, ok := m.(syncvar.Element); ok {
		en.active[el] = struct{}{}
	}
}

// Subscribed implements entity.SubscriptionHook.
func (en *Engine) Subscribed(p *entity.Player, e *entity.Entity) {
	if o := en.observer(p); o != nil {
		o.spawn(e)
	}
}

// Unsubscribed implements entity.SubscriptionHook.
func (en *Engine) Unsubscribed(p *entity.Player, e *entity.Entity, reason entity.DestroyReason) {
	if o := en.observer(p); o != nil {
		o.destroy(e, reason)
	}
}

// EntitySpawned implements entity.SpawnHook. Every subscriber receives the
// current values inside its Spawn state, so nothing is dirty yet.
func (en *Engine) EntitySpawned(e *entity.Entity) {
	for _, el := range syncvar.Elements(e) {
		el.State().MarkSpawned()
		delete(en.active, el)
	}
}

// EntityDestroyed implements entity.DestroyHook.
func (en *Engine) EntityDestroyed(e *entity.Entity, _ entity.DestroyReason) {
	for _, el := range syncvar.Elements(e) {
		delete(en.active, el)
	}
}

// PlayerAdded implements entity.PlayerHook.
func (en *Engine) PlayerAdded(p *entity.Player) { en.observer(p) }

// PlayerRemoved implements entity.PlayerHook.
func (en *Engine) PlayerRemoved(p *entity.Player) { delete(en.observers, p.ConnID) }

// Tick advances every active element, queues the resulting data for each
// subscriber and flushes every ready observer's pending states.
func (en *Engine) Tick(tick uint32) {
	baselineDue := tick-en.lastBaseline >= en.cfg.BaselineInterval
	if baselineDue {
		en.lastBaseline = tick
	}
	clear(en.cache)

	for _, el := range en.sortedActive() {
		b := el.State()
		e := b.Entity()
		if e == nil || !e.IsSetup() {
			delete(en.active, el)
			continue
		}
		ch, _ := en.channels.Get(b.Channel())
		switch b.Advance(tick, ch, baselineDue) {
		case syncvar.SendReliable:
			en.fanOut(e, el, true)
		case syncvar.SendUnreliable:
			en.fanOut(e, el, false)
		}
		if b.Settled() {
			delete(en.active, el)
		}
	}

	for _, p := range en.reg.ReadyPlayers() {
		if o, ok := en.observers[p.ConnID]; ok && !p.Local {
			en.flush(tick, o)
		}
	}
}

func (en *Engine) fanOut(e *entity.Entity, el syncvar.Element, reliable bool) {
	for _, p := range e.Subscribers() {
		if o := en.observer(p); o != nil {
			o.data(el, reliable)
		}
	}
}

func (en *Engine) sortedActive() []syncvar.Element {
	out := make([]syncvar.Element, 0, len(en.active))
	for el := range en.active {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].State(), out[j].State()
		ea, eb := a.Entity(), b.Entity()
		if ea == nil || eb == nil || ea.ID == eb.ID {
			return a.ID() < b.ID()
		}
		return ea.ID < eb.ID
	})
	return out
}

// flush drains o into at most two packets per channel and clears what it
// sent.
func (en *Engine) flush(tick uint32, o *observer) {
	for ch := 0; ch < len(o.reliable); ch++ {
		var states []*pendingState
		if ch == 0 && len(o.lifecycle) > 0 {
			states = append(states, o.lifecycle.sorted()...)
			clear(o.lifecycle)
		}
		if len(o.reliable[ch]) > 0 {
			states = append(states, o.reliable[ch].sorted()...)
			clear(o.reliable[ch])
		}
		if len(states) > 0 {
			en.send(o.conn, packet.MsgSyncBaseline, uint8(ch), tick, states)
		}
		if len(o.unreliable[ch]) > 0 {
			en.send(o.conn, packet.MsgSyncDelta, uint8(ch), tick, o.unreliable[ch].sorted())
			clear(o.unreliable[ch])
		}
	}
}

func (en *Engine) send(conn entity.ConnID, t packet.MsgType, ch uint8, tick uint32, states []*pendingState) {
	w := packet.NewMessageWriter(t)
	w.WriteUint8(ch)
	w.WriteUvarint(uint64(tick))
	countAt := w.Reserve32()
	for _, ps := range states {
		en.writeState(w, ps)
	}
	w.PatchInt32(countAt, int32(len(states)))

	transport := packet.Reliable
	if t == packet.MsgSyncDelta {
		transport = packet.Unreliable
		en.stats.DeltaPackets++
	} else {
		en.stats.BaselinePackets++
	}
	en.stats.Bytes += uint64(w.Len())
	en.sender.SendTo(conn, transport, w.Bytes())
}
