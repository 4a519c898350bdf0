package replication

import (
	"errors"
	"fmt"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/syncvar"
	"go.uber.org/zap"
)

var (
	ErrMalformed  = errors.New("replication: malformed sync packet")
	ErrUnresolved = errors.New("replication: unresolved element")
)

// ApplyStats counts what an Applier did with incoming tuples.
type ApplyStats struct {
	Spawned   uint64
	Destroyed uint64
	Applied   uint64 // element payloads applied or rejected as stale
	Skipped   uint64 // element payloads skipped in safe mode
}

// Applier is the client side of the engine: it reads SyncBaseline and
// SyncDelta payloads into the local registry. Accessed only from the tick
// goroutine.
type Applier struct {
	reg   *entity.Registry
	safe  bool
	log   *zap.Logger
	stats ApplyStats
}

func NewApplier(reg *entity.Registry, safe bool, log *zap.Logger) *Applier {
	return &Applier{reg: reg, safe: safe, log: log}
}

// Stats returns apply counters.
func (a *Applier) Stats() ApplyStats { return a.stats }

// Apply consumes one sync packet; r must be positioned after the type byte.
// In safe mode unresolved or undecodable elements are skipped by length; in
// unsafe mode the rest of the packet is abandoned.
func (a *Applier) Apply(r *packet.Reader) error {
	ch := r.ReadUint8()
	tick := uint32(r.ReadUvarint())
	count := r.ReadInt32()
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if count < 0 || int(count) > r.Remaining() {
		return fmt.Errorf("%w: count %d", ErrMalformed, count)
	}

	for i := int32(0); i < count; i++ {
		kind := StateType(r.ReadUint8())
		id := entity.ObjectID(r.ReadUvarint())
		if err := r.Err(); err != nil {
			return fmt.Errorf("%w: tuple %d: %v", ErrMalformed, i, err)
		}
		var err error
		switch kind {
		case StateSpawn:
			err = a.applySpawn(r, id, tick)
		case StateDestroy:
			reason := entity.DestroyReason(r.ReadUint8())
			if err = r.Err(); err == nil {
				a.applyDestroy(id, reason)
			}
		case StateData:
			e, _ := a.reg.Get(id)
			err = a.readElements(r, e, tick)
		default:
			err = fmt.Errorf("%w: state type %d", ErrMalformed, kind)
		}
		if err != nil {
			a.log.Debug("sync packet abandoned",
				zap.Uint8("channel", ch),
				zap.Uint32("tick", tick),
				zap.Uint32("object_id", uint32(id)),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func (a *Applier) applySpawn(r *packet.Reader, id entity.ObjectID, tick uint32) error {
	isScene := r.ReadBool()
	asset := uint32(r.ReadUvarint())
	pos := syncvar.ReadVec3(r)
	rot := syncvar.ReadVec3(r)
	owner := entity.ConnID(r.ReadVarint())
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: spawn: %v", ErrMalformed, err)
	}

	e := a.spawn(entity.SpawnParams{AssetID: asset, ID: id, Owner: owner, IsScene: isScene, Position: pos, Rotation: rot})
	if e != nil {
		e.Position, e.Rotation = pos, rot
		a.reg.Host().WriteTransform(e.Handle, pos, rot)
		a.stats.Spawned++
	}
	return a.readElements(r, e, tick)
}

func (a *Applier) spawn(sp entity.SpawnParams) *entity.Entity {
	existing, ok := a.reg.Lookup(sp.ID)
	if !ok {
		e, err := a.reg.Spawn(sp)
		if err != nil {
			a.log.Debug("spawn failed", zap.Uint32("object_id", uint32(sp.ID)), zap.Error(err))
			return nil
		}
		return e
	}
	if !existing.IsActive() {
		e, err := a.reg.Restore(sp.ID, sp.Owner)
		if err != nil {
			a.log.Debug("restore failed", zap.Uint32("object_id", uint32(sp.ID)), zap.Error(err))
			return nil
		}
		return e
	}
	// re-subscribed within one tick: refresh in place
	if existing.Owner != sp.Owner {
		_ = a.reg.SetOwner(sp.ID, sp.Owner)
	}
	return existing
}

func (a *Applier) applyDestroy(id entity.ObjectID, reason entity.DestroyReason) {
	if err := a.reg.Destroy(id, reason); err != nil {
		a.log.Debug("destroy of unknown entity", zap.Uint32("object_id", uint32(id)), zap.Error(err))
		return
	}
	a.stats.Destroyed++
}

// readElements applies an element list to e; e may be nil when the entity
// is unknown.
func (a *Applier) readElements(r *packet.Reader, e *entity.Entity, tick uint32) error {
	n := r.ReadUvarint()
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: element count: %v", ErrMalformed, err)
	}
	if n > uint64(r.Remaining()) {
		return fmt.Errorf("%w: element count %d", ErrMalformed, n)
	}

	for i := uint64(0); i < n; i++ {
		elemID := r.ReadUvarint()
		if !a.safe {
			el := resolve(e, elemID)
			if el == nil {
				return fmt.Errorf("%w: element %d", ErrUnresolved, elemID)
			}
			if err := el.Apply(tick, r); err != nil {
				return fmt.Errorf("%w: element %d: %v", ErrMalformed, elemID, err)
			}
			a.stats.Applied++
			continue
		}

		length := r.ReadInt32()
		if err := r.Err(); err != nil {
			return fmt.Errorf("%w: element header: %v", ErrMalformed, err)
		}
		if length < 0 || int(length) > r.Remaining() {
			return fmt.Errorf("%w: element length %d", ErrMalformed, length)
		}
		sub := r.Sub(int(length))
		el := resolve(e, elemID)
		if el == nil {
			a.stats.Skipped++
			continue
		}
		if err := el.Apply(tick, sub); err != nil {
			a.log.Debug("element skipped", zap.Uint64("element_id", elemID), zap.Error(err))
			a.stats.Skipped++
			continue
		}
		a.stats.Applied++
	}
	return r.Err()
}

func resolve(e *entity.Entity, id uint64) syncvar.Element {
	if e == nil {
		return nil
	}
	m, ok := e.Member(id)
	if !ok {
		return nil
	}
	el, _ := m.(syncvar.Element)
	return el
}
