package replication

import (
	"sort"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/syncvar"
)

// StateType tags one tuple in a sync packet.
type StateType byte

const (
	StateSpawn StateType = iota + 1
	StateDestroy
	StateData
)

func (s StateType) String() string {
	switch s {
	case StateSpawn:
		return "spawn"
	case StateDestroy:
		return "destroy"
	case StateData:
		return "data"
	default:
		return "unknown"
	}
}

// pendingState is what one observer still has to receive about one entity on
// one channel.
type pendingState struct {
	kind     StateType
	entity   *entity.Entity
	reason   entity.DestroyReason
	elements []syncvar.Element
}

func (ps *pendingState) addElement(el syncvar.Element) {
	for _, have := range ps.elements {
		if have == el {
			return
		}
	}
	ps.elements = append(ps.elements, el)
}

type pendingMap map[entity.ObjectID]*pendingState

func (m pendingMap) sorted() []*pendingState {
	out := make([]*pendingState, 0, len(m))
	for _, ps := range m {
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entity.ID < out[j].entity.ID })
	return out
}

// observer holds one player's pending sync buffers. Lifecycle states live on
// channel 0's reliable packet; data is kept per channel and reliability.
type observer struct {
	conn       entity.ConnID
	lifecycle  pendingMap
	reliable   []pendingMap
	unreliable []pendingMap
}

func newObserver(conn entity.ConnID, channels int) *observer {
	o := &observer{
		conn:       conn,
		lifecycle:  make(pendingMap),
		reliable:   make([]pendingMap, channels),
		unreliable: make([]pendingMap, channels),
	}
	for i := 0; i < channels; i++ {
		o.reliable[i] = make(pendingMap)
		o.unreliable[i] = make(pendingMap)
	}
	return o
}

// spawn queues a Spawn. It replaces a pending Destroy and any pending data,
// since the Spawn carries every element.
func (o *observer) spawn(e *entity.Entity) {
	o.dropData(e.ID)
	o.lifecycle[e.ID] = &pendingState{kind: StateSpawn, entity: e}
}

// destroy queues a Destroy. It overwrites whatever was pending.
func (o *observer) destroy(e *entity.Entity, reason entity.DestroyReason) {
	o.dropData(e.ID)
	o.lifecycle[e.ID] = &pendingState{kind: StateDestroy, entity: e, reason: reason}
}

// data appends el unless a Spawn or Destroy is already pending for its
// entity.
func (o *observer) data(el syncvar.Element, reliable bool) {
	e := el.State().Entity()
	if _, busy := o.lifecycle[e.ID]; busy {
		return
	}
	ch := int(el.State().Channel())
	if ch >= len(o.reliable) {
		ch = 0
	}
	m := o.unreliable[ch]
	if reliable {
		m = o.reliable[ch]
		// the reliable copy supersedes an unreliable one from this tick
		if ps, ok := o.unreliable[ch][e.ID]; ok {
			ps.removeElement(el)
			if len(ps.elements) == 0 {
				delete(o.unreliable[ch], e.ID)
			}
		}
	}
	ps, ok := m[e.ID]
	if !ok {
		ps = &pendingState{kind: StateData, entity: e}
		m[e.ID] = ps
	}
	ps.addElement(el)
}

func (ps *pendingState) removeElement(el syncvar.Element) {
	for i, have := range ps.elements {
		if have == el {
			ps.elements = append(ps.elements[:i], ps.elements[i+1:]...)
			return
		}
	}
}

func (o *observer) dropData(id entity.ObjectID) {
	for i := range o.reliable {
		delete(o.reliable[i], id)
		delete(o.unreliable[i], id)
	}
}

func (o *observer) pending() int {
	n := len(o.lifecycle)
	for i := range o.reliable {
		n += len(o.reliable[i]) + len(o.unreliable[i])
	}
	return n
}
