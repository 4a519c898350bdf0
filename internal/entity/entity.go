package entity

import "sort"

// Member is one slot of an entity's member table: a sync element or a remote
// function. The slot index is its element id on the wire.
type Member interface {
	Bind(e *Entity, id uint8)
}

// Teardowner is implemented by members that release state on destroy.
type Teardowner interface {
	Teardown()
}

// Resetter is implemented by members that keep per-lifetime bookkeeping.
type Resetter interface {
	Reset()
}

// Entity is a replicated object. Accessed only from the tick goroutine.
type Entity struct {
	ID       ObjectID
	AssetID  uint32
	Owner    ConnID
	IsScene  bool
	Handle   Handle
	Position Vec3
	Rotation Vec3

	// Interest knobs.
	VisibleRange   float32 // 0 = manager default
	AlwaysVisible  bool
	Hidden         bool
	HideExceptions map[ConnID]struct{}

	members     []Member
	subscribers map[ConnID]*Player
	registry    *Registry
	setup       bool
	active      bool
}

func newEntity(r *Registry, id ObjectID, assetID uint32, owner ConnID) *Entity {
	return &Entity{
		ID:          id,
		AssetID:     assetID,
		Owner:       owner,
		subscribers: make(map[ConnID]*Player),
		registry:    r,
	}
}

// AddMember appends m to the member table and binds it to its element id.
// Fails with ErrCapacity once the uint8 index range is used up.
func (e *Entity) AddMember(m Member) (uint8, error) {
	if len(e.members) >= MaxMembers {
		return 0, ErrCapacity
	}
	id := uint8(len(e.members))
	e.members = append(e.members, m)
	m.Bind(e, id)
	return id, nil
}

// Member returns the member with the given element id.
func (e *Entity) Member(id uint64) (Member, bool) {
	if id >= uint64(len(e.members)) {
		return nil, false
	}
	return e.members[id], true
}

// Members returns the member table in element id order.
func (e *Entity) Members() []Member { return e.members }

// MarkDirty forwards a member change to the replication engine.
func (e *Entity) MarkDirty(m Member) {
	if e.registry == nil || !e.setup || !e.active {
		return
	}
	for _, h := range e.registry.dirtyHooks {
		h.MarkDirty(e, m)
	}
}

// IsActive reports whether the entity is live; hidden scene entities are not.
func (e *Entity) IsActive() bool { return e.active }

// IsSetup reports whether the entity finished spawning and is live.
func (e *Entity) IsSetup() bool { return e.setup && e.active }

// IsOwnedBy reports whether conn owns the entity.
func (e *Entity) IsOwnedBy(conn ConnID) bool {
	return e.Owner != ServerConn && e.Owner == conn
}

// HasSubscriber reports whether conn currently receives this entity.
func (e *Entity) HasSubscriber(conn ConnID) bool {
	_, ok := e.subscribers[conn]
	return ok
}

// SubscriberCount returns the number of observers receiving this entity.
func (e *Entity) SubscriberCount() int { return len(e.subscribers) }

// Subscribers returns observers in connection id order.
func (e *Entity) Subscribers() []*Player {
	out := make([]*Player, 0, len(e.subscribers))
	for _, p := range e.subscribers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

// Hide sets the hidden flag; conns in except still see the entity.
func (e *Entity) Hide(except ...ConnID) {
	e.Hidden = true
	e.HideExceptions = make(map[ConnID]struct{}, len(except))
	for _, c := range except {
		e.HideExceptions[c] = struct{}{}
	}
}

// Unhide clears the hidden flag and its exception list.
func (e *Entity) Unhide() {
	e.Hidden = false
	e.HideExceptions = nil
}

// VisibleTo reports whether the hide flag allows conn to see the entity.
func (e *Entity) VisibleTo(conn ConnID) bool {
	if !e.Hidden {
		return true
	}
	_, ok := e.HideExceptions[conn]
	return ok
}
