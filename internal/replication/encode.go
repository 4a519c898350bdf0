package replication

import (
	"sort"

	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/syncvar"
)

func (en *Engine) writeState(w *packet.Writer, ps *pendingState) {
	e := ps.entity
	w.WriteUint8(byte(ps.kind))
	w.WriteUvarint(uint64(e.ID))

	switch ps.kind {
	case StateSpawn:
		w.WriteBool(e.IsScene)
		w.WriteUvarint(uint64(e.AssetID))
		syncvar.WriteVec3(w, e.Position)
		syncvar.WriteVec3(w, e.Rotation)
		w.WriteVarint(int64(e.Owner))
		els := syncvar.Elements(e)
		en.writeElements(w, els)
		for _, el := range els {
			el.State().MarkSentReliable()
		}
	case StateDestroy:
		w.WriteUint8(byte(ps.reason))
	case StateData:
		sort.Slice(ps.elements, func(i, j int) bool {
			return ps.elements[i].State().ID() < ps.elements[j].State().ID()
		})
		en.writeElements(w, ps.elements)
	}
}

// writeElements writes an element list: count, then id and payload per
// element, with an int32 byte length before each payload in safe mode.
func (en *Engine) writeElements(w *packet.Writer, els []syncvar.Element) {
	w.WriteUvarint(uint64(len(els)))
	for _, el := range els {
		w.WriteUvarint(uint64(el.State().ID()))
		payload := en.payload(el)
		if en.cfg.Safe {
			w.WriteInt32(int32(len(payload)))
		}
		w.WriteBytes(payload)
	}
}

// payload serializes el once per tick; every observer shares the bytes.
func (en *Engine) payload(el syncvar.Element) []byte {
	if b, ok := en.cache[el]; ok {
		return b
	}
	w := packet.NewWriter()
	el.Serialize(w)
	b := w.Bytes()
	en.cache[el] = b
	return b
}
