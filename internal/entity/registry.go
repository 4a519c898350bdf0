package entity

import (
	"fmt"
	"sort"

	"github.com/replinet/server/internal/core/event"
	"go.uber.org/zap"
)

// Prefab describes a spawnable entity type. Build populates the member table
// in a fixed order so element ids match on every peer.
type Prefab struct {
	AssetID       uint32
	Name          string
	VisibleRange  float32
	AlwaysVisible bool
	Build         func(e *Entity) error
}

// SpawnParams configures Spawn. ID 0 allocates a fresh id.
type SpawnParams struct {
	AssetID  uint32
	ID       ObjectID
	Owner    ConnID
	IsScene  bool
	Position Vec3
	Rotation Vec3
}

// Hook interfaces. A hook registered with AddHook receives every interface
// it implements.
type (
	SpawnHook interface {
		EntitySpawned(e *Entity)
	}
	DestroyHook interface {
		EntityDestroyed(e *Entity, reason DestroyReason)
	}
	OwnerHook interface {
		OwnerChanged(e *Entity, prev ConnID)
	}
	SubscriptionHook interface {
		Subscribed(p *Player, e *Entity)
		Unsubscribed(p *Player, e *Entity, reason DestroyReason)
	}
	PlayerHook interface {
		PlayerAdded(p *Player)
		PlayerRemoved(p *Player)
	}
	DirtyHook interface {
		MarkDirty(e *Entity, m Member)
	}
)

// Registry owns entity identity, lifecycle and ownership, and the
// player/entity subscription graph. Accessed only from the tick goroutine.
type Registry struct {
	prefabs  map[uint32]*Prefab
	entities map[ObjectID]*Entity
	players  map[ConnID]*Player
	ids      IDAllocator
	host     Host
	bus      *event.Bus
	log      *zap.Logger

	spawnHooks   []SpawnHook
	destroyHooks []DestroyHook
	ownerHooks   []OwnerHook
	subHooks     []SubscriptionHook
	playerHooks  []PlayerHook
	dirtyHooks   []DirtyHook
}

func NewRegistry(host Host, bus *event.Bus, log *zap.Logger) *Registry {
	if host == nil {
		host = NopHost{}
	}
	return &Registry{
		prefabs:  make(map[uint32]*Prefab),
		entities: make(map[ObjectID]*Entity, 256),
		players:  make(map[ConnID]*Player),
		host:     host,
		bus:      bus,
		log:      log,
	}
}

// AddHook registers h for every hook interface it implements.
func (r *Registry) AddHook(h any) {
	if x, ok := h.(SpawnHook); ok {
		r.spawnHooks = append(r.spawnHooks, x)
	}
	if x, ok := h.(DestroyHook); ok {
		r.destroyHooks = append(r.destroyHooks, x)
	}
	if x, ok := h.(OwnerHook); ok {
		r.ownerHooks = append(r.ownerHooks, x)
	}
	if x, ok := h.(SubscriptionHook); ok {
		r.subHooks = append(r.subHooks, x)
	}
	if x, ok := h.(PlayerHook); ok {
		r.playerHooks = append(r.playerHooks, x)
	}
	if x, ok := h.(DirtyHook); ok {
		r.dirtyHooks = append(r.dirtyHooks, x)
	}
}

// RegisterPrefab adds a spawnable type.
func (r *Registry) RegisterPrefab(p Prefab) error {
	if p.Build == nil {
		return fmt.Errorf("prefab %d (%s): nil builder", p.AssetID, p.Name)
	}
	if _, dup := r.prefabs[p.AssetID]; dup {
		return fmt.Errorf("prefab %d (%s): already registered", p.AssetID, p.Name)
	}
	r.prefabs[p.AssetID] = &p
	return nil
}

// Prefab returns the registered prefab for assetID.
func (r *Registry) Prefab(assetID uint32) (*Prefab, bool) {
	p, ok := r.prefabs[assetID]
	return p, ok
}

// IDs exposes the object id allocator.
func (r *Registry) IDs() *IDAllocator { return &r.ids }

// Host returns the host collaborator.
func (r *Registry) Host() Host { return r.host }

// Spawn creates, registers and announces an entity.
func (r *Registry) Spawn(sp SpawnParams) (*Entity, error) {
	prefab, ok := r.prefabs[sp.AssetID]
	if !ok {
		return nil, fmt.Errorf("%w: asset %d", ErrUnknownEntityType, sp.AssetID)
	}

	id := sp.ID
	if id == 0 {
		next, err := r.ids.Next()
		if err != nil {
			return nil, err
		}
		id = next
	} else {
		if _, exists := r.entities[id]; exists {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
		}
		r.ids.Observe(id)
	}

	handle, err := r.host.Instantiate(sp.AssetID, sp.Position, sp.Rotation)
	if err != nil {
		return nil, fmt.Errorf("instantiate asset %d: %w", sp.AssetID, err)
	}

	owner := sp.Owner
	if owner < ServerConn {
		owner = ServerConn
	}
	e := newEntity(r, id, sp.AssetID, owner)
	e.IsScene = sp.IsScene
	e.Handle = handle
	e.Position = sp.Position
	e.Rotation = sp.Rotation
	e.VisibleRange = prefab.VisibleRange
	e.AlwaysVisible = prefab.AlwaysVisible

	if err := prefab.Build(e); err != nil {
		r.host.DestroyInstance(handle)
		return nil, fmt.Errorf("build %s: %w", prefab.Name, err)
	}
	e.setup = true
	r.entities[id] = e
	r.activate(e)
	return e, nil
}

// Restore reactivates a hidden scene entity under its reserved id. Members
// implementing Resetter drop their replication bookkeeping.
func (r *Registry) Restore(id ObjectID, owner ConnID) (*Entity, error) {
	e, ok := r.entities[id]
	if !ok || !e.IsScene {
		return nil, fmt.Errorf("%w: scene entity %d", ErrNotFound, id)
	}
	if e.active {
		return e, nil
	}
	if owner < ServerConn {
		owner = ServerConn
	}
	e.Owner = owner
	for _, m := range e.members {
		if rs, ok := m.(Resetter); ok {
			rs.Reset()
		}
	}
	r.activate(e)
	return e, nil
}

func (r *Registry) activate(e *Entity) {
	e.active = true
	if p, ok := r.players[e.Owner]; ok {
		p.Spawned[e.ID] = e
		r.Subscribe(p, e)
	}

	for _, h := range r.spawnHooks {
		h.EntitySpawned(e)
	}
	event.Emit(r.bus, event.EntitySpawned{ObjectID: uint32(e.ID), AssetID: e.AssetID, Owner: int32(e.Owner), Handle: e.Handle})

	r.log.Debug("entity spawned",
		zap.Uint32("object_id", uint32(e.ID)),
		zap.Uint32("asset", e.AssetID),
		zap.Int32("owner", int32(e.Owner)),
	)
}

// Destroy tears down an entity. Scene entities are hidden and kept so their
// id stays reserved; dynamic entities are removed. Ids are never reused.
func (r *Registry) Destroy(id ObjectID, reason DestroyReason) error {
	e, ok := r.entities[id]
	if !ok || !e.active {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	for _, m := range e.members {
		if t, ok := m.(Teardowner); ok {
			t.Teardown()
		}
	}

	for _, p := range e.Subscribers() {
		r.Unsubscribe(p, e, reason)
	}
	if p, ok := r.players[e.Owner]; ok {
		delete(p.Spawned, id)
	}

	for _, h := range r.destroyHooks {
		h.EntityDestroyed(e, reason)
	}

	e.active = false
	if !e.IsScene {
		delete(r.entities, id)
		r.host.DestroyInstance(e.Handle)
	}
	event.Emit(r.bus, event.EntityDestroyed{ObjectID: uint32(id), Handle: e.Handle, Reason: byte(reason)})

	r.log.Debug("entity destroyed",
		zap.Uint32("object_id", uint32(id)),
		zap.Stringer("reason", reason),
		zap.Bool("scene", e.IsScene),
	)
	return nil
}

// SetOwner moves an entity between owners and notifies both owners and all
// current subscribers through the owner hooks.
func (r *Registry) SetOwner(id ObjectID, owner ConnID) error {
	e, ok := r.entities[id]
	if !ok || !e.active {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if owner < ServerConn {
		owner = ServerConn
	}
	prev := e.Owner
	if prev == owner {
		return nil
	}

	if p, ok := r.players[prev]; ok {
		delete(p.Spawned, id)
	}
	e.Owner = owner
	if p, ok := r.players[owner]; ok {
		p.Spawned[id] = e
		r.Subscribe(p, e)
	}

	for _, h := range r.ownerHooks {
		h.OwnerChanged(e, prev)
	}
	event.Emit(r.bus, event.OwnerChanged{ObjectID: uint32(id), Handle: e.Handle, Previous: int32(prev), Owner: int32(owner)})
	return nil
}

// Lookup returns an entity even when it is a hidden scene entity.
func (r *Registry) Lookup(id ObjectID) (*Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// Get returns a live entity.
func (r *Registry) Get(id ObjectID) (*Entity, bool) {
	e, ok := r.entities[id]
	if !ok || !e.active {
		return nil, false
	}
	return e, true
}

// Each visits every live entity.
func (r *Registry) Each(fn func(*Entity)) {
	for _, e := range r.entities {
		if e.active {
			fn(e)
		}
	}
}

// Entities returns live entities in object id order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.entities))
	r.Each(func(e *Entity) { out = append(out, e) })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live entities.
func (r *Registry) Count() int {
	n := 0
	r.Each(func(*Entity) { n++ })
	return n
}

// PullTransforms refreshes cached transforms from the host.
func (r *Registry) PullTransforms() {
	r.Each(func(e *Entity) {
		e.Position, e.Rotation = r.host.ReadTransform(e.Handle)
	})
}

// ClearScene removes every scene entity, live or hidden.
func (r *Registry) ClearScene(reason DestroyReason) {
	for id, e := range r.entities {
		if !e.IsScene {
			continue
		}
		if e.active {
			_ = r.Destroy(id, reason)
		}
		delete(r.entities, id)
		r.host.DestroyInstance(e.Handle)
	}
}

// AddPlayer registers a connection as an observer.
func (r *Registry) AddPlayer(conn ConnID, local bool) *Player {
	if p, ok := r.players[conn]; ok {
		return p
	}
	p := newPlayer(conn, local)
	r.players[conn] = p
	for _, h := range r.playerHooks {
		h.PlayerAdded(p)
	}
	event.Emit(r.bus, event.PlayerJoined{ConnID: int32(conn)})
	return p
}

// RemovePlayer unsubscribes a disconnected player from everything, destroys
// its dynamic entities and hands its scene entities back to the server.
func (r *Registry) RemovePlayer(conn ConnID) error {
	p, ok := r.players[conn]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPlayer, conn)
	}
	for _, e := range p.Subscribings() {
		r.Unsubscribe(p, e, ReasonUnsubscribed)
	}
	for _, e := range p.Owned() {
		if e.IsScene {
			_ = r.SetOwner(e.ID, ServerConn)
			continue
		}
		_ = r.Destroy(e.ID, ReasonOwnerLeft)
	}
	delete(r.players, conn)
	for _, h := range r.playerHooks {
		h.PlayerRemoved(p)
	}
	event.Emit(r.bus, event.PlayerLeft{ConnID: int32(conn)})
	return nil
}

// SetReady marks a player as receiving replication.
func (r *Registry) SetReady(conn ConnID) (*Player, error) {
	p, ok := r.players[conn]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPlayer, conn)
	}
	p.Ready = true
	return p, nil
}

// Player returns a connected player.
func (r *Registry) Player(conn ConnID) (*Player, bool) {
	p, ok := r.players[conn]
	return p, ok
}

// Players returns connected players in connection id order.
func (r *Registry) Players() []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

// ReadyPlayers returns players that receive replication.
func (r *Registry) ReadyPlayers() []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.Players() {
		if p.Ready {
			out = append(out, p)
		}
	}
	return out
}

// Subscribe makes p an observer of e. Returns false if it already was.
func (r *Registry) Subscribe(p *Player, e *Entity) bool {
	if _, ok := e.subscribers[p.ConnID]; ok {
		return false
	}
	e.subscribers[p.ConnID] = p
	p.subscribings[e.ID] = e
	for _, h := range r.subHooks {
		h.Subscribed(p, e)
	}
	return true
}

// Unsubscribe stops p observing e. Returns false if it was not subscribed.
func (r *Registry) Unsubscribe(p *Player, e *Entity, reason DestroyReason) bool {
	if _, ok := e.subscribers[p.ConnID]; !ok {
		return false
	}
	delete(e.subscribers, p.ConnID)
	delete(p.subscribings, e.ID)
	for _, h := range r.subHooks {
		h.Unsubscribed(p, e, reason)
	}
	return true
}

// CheckSymmetry verifies that subscriber and subscribing sets mirror each
// other. Used by tests and debug tooling.
func (r *Registry) CheckSymmetry() error {
	for _, e := range r.entities {
		for conn, p := range e.subscribers {
			if _, ok := p.subscribings[e.ID]; !ok {
				return fmt.Errorf("entity %d lists subscriber %d which does not watch it", e.ID, conn)
			}
			if r.players[conn] != p {
				return fmt.Errorf("entity %d lists departed player %d", e.ID, conn)
			}
		}
	}
	for conn, p := range r.players {
		for id, e := range p.subscribings {
			if _, ok := e.subscribers[conn]; !ok {
				return fmt.Errorf("player %d watches entity %d which does not list it", conn, id)
			}
			if live, ok := r.Get(id); !ok || live != e {
				return fmt.Errorf("player %d watches dead entity %d", conn, id)
			}
		}
	}
	return nil
}
