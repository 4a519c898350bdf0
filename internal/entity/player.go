package entity

import (
	"sort"
	"time"
)

// Player is one connected observer. Accessed only from the tick goroutine.
type Player struct {
	ConnID ConnID
	Ready  bool
	Local  bool // the host's own client connection
	RTT    time.Duration

	Spawned map[ObjectID]*Entity

	subscribings map[ObjectID]*Entity
}

func newPlayer(conn ConnID, local bool) *Player {
	return &Player{
		ConnID:       conn,
		Local:        local,
		Spawned:      make(map[ObjectID]*Entity),
		subscribings: make(map[ObjectID]*Entity),
	}
}

// IsSubscribed reports whether the player currently receives entity id.
func (p *Player) IsSubscribed(id ObjectID) bool {
	_, ok := p.subscribings[id]
	return ok
}

// Owns reports whether the player owns entity id.
func (p *Player) Owns(id ObjectID) bool {
	_, ok := p.Spawned[id]
	return ok
}

// SubscribingCount returns the number of entities the player receives.
func (p *Player) SubscribingCount() int { return len(p.subscribings) }

// Subscribings returns watched entities in object id order.
func (p *Player) Subscribings() []*Entity {
	return sortedEntities(p.subscribings)
}

// Owned returns owned entities in object id order.
func (p *Player) Owned() []*Entity {
	return sortedEntities(p.Spawned)
}

// UpdateRTT folds a new round-trip sample into the estimate.
func (p *Player) UpdateRTT(sample time.Duration) {
	if p.RTT == 0 {
		p.RTT = sample
		return
	}
	p.RTT = (p.RTT*7 + sample) / 8
}

func sortedEntities(m map[ObjectID]*Entity) []*Entity {
	out := make([]*Entity, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
