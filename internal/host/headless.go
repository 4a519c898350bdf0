// Package host provides an entity.Host for servers running without an
// engine. Instances live in an ECS world.
package host

import (
	"github.com/replinet/server/internal/core/ecs"
	"github.com/replinet/server/internal/entity"
)

// Transform is the component holding an instance's pose.
type Transform struct {
	Position entity.Vec3
	Rotation entity.Vec3
}

// Asset records which asset an instance was created from.
type Asset struct {
	ID uint32
}

// Headless keeps instances in memory. Destroyed instances linger until the
// world's destroy queue is flushed. Game loop only.
type Headless struct {
	world      *ecs.World
	transforms *ecs.Store[Transform]
	assets     *ecs.Store[Asset]
}

func NewHeadless() *Headless {
	h := &Headless{
		world:      ecs.NewWorld(),
		transforms: ecs.NewStore[Transform](),
		assets:     ecs.NewStore[Asset](),
	}
	h.world.Register(h.transforms)
	h.world.Register(h.assets)
	return h
}

// World exposes the ECS world, e.g. for CleanupSystem.
func (h *Headless) World() *ecs.World { return h.world }

func (h *Headless) Instantiate(assetID uint32, pos, rot entity.Vec3) (entity.Handle, error) {
	id := h.world.CreateEntity()
	h.transforms.Set(id, &Transform{Position: pos, Rotation: rot})
	h.assets.Set(id, &Asset{ID: assetID})
	return id, nil
}

func (h *Headless) DestroyInstance(handle entity.Handle) {
	if id, ok := h.live(handle); ok {
		h.world.MarkForDestruction(id)
	}
}

func (h *Headless) ReadTransform(handle entity.Handle) (entity.Vec3, entity.Vec3) {
	id, ok := h.live(handle)
	if !ok {
		return entity.Vec3{}, entity.Vec3{}
	}
	tr, ok := h.transforms.Get(id)
	if !ok {
		return entity.Vec3{}, entity.Vec3{}
	}
	return tr.Position, tr.Rotation
}

func (h *Headless) WriteTransform(handle entity.Handle, pos, rot entity.Vec3) {
	id, ok := h.live(handle)
	if !ok {
		return
	}
	if tr, ok := h.transforms.Get(id); ok {
		tr.Position, tr.Rotation = pos, rot
	}
}

// CountByAsset returns the number of instances per asset id.
func (h *Headless) CountByAsset() map[uint32]int {
	out := make(map[uint32]int)
	ecs.Each2(h.assets, h.transforms, func(_ ecs.EntityID, a *Asset, _ *Transform) {
		out[a.ID]++
	})
	return out
}

func (h *Headless) live(handle entity.Handle) (ecs.EntityID, bool) {
	id, ok := handle.(ecs.EntityID)
	if !ok || !h.world.Alive(id) {
		return 0, false
	}
	return id, true
}

var _ entity.Host = (*Headless)(nil)
