package interest

import (
	"math"

	"github.com/replinet/server/internal/entity"
)

// FilterContext is handed to an optional Filter after the built-in rules ran.
type FilterContext struct {
	Observer    entity.ConnID
	TargetID    entity.ObjectID
	TargetAsset uint32
	TargetOwner entity.ConnID
	Distance    float32 // nearest viewer distance, -1 when the observer owns nothing
	Decision    bool    // built-in decision
}

// Filter can override the built-in decision. handled=false keeps it.
type Filter interface {
	ShouldSubscribe(ctx FilterContext) (subscribe, handled bool)
}

// Policy is the should-subscribe predicate shared by every manager.
type Policy struct {
	DefaultRange float32
	Filter       Filter
}

// Range returns the visible range of e.
func (p *Policy) Range(e *entity.Entity) float32 {
	if e.VisibleRange > 0 {
		return e.VisibleRange
	}
	return p.DefaultRange
}

// ShouldSubscribe decides whether observer obs, looking through its owned
// viewer entities, should receive target.
func (p *Policy) ShouldSubscribe(obs *entity.Player, viewers []*entity.Entity, target *entity.Entity) bool {
	decision, dist := p.decide(obs, viewers, target)
	if p.Filter == nil {
		return decision
	}
	sub, handled := p.Filter.ShouldSubscribe(FilterContext{
		Observer:    obs.ConnID,
		TargetID:    target.ID,
		TargetAsset: target.AssetID,
		TargetOwner: target.Owner,
		Distance:    dist,
		Decision:    decision,
	})
	if !handled {
		return decision
	}
	return sub
}

func (p *Policy) decide(obs *entity.Player, viewers []*entity.Entity, target *entity.Entity) (bool, float32) {
	dist := nearest(viewers, target)
	if target.IsOwnedBy(obs.ConnID) {
		return true, dist
	}
	if !target.VisibleTo(obs.ConnID) {
		return false, dist
	}
	if target.AlwaysVisible {
		return true, dist
	}
	if dist < 0 {
		return false, dist
	}
	return dist <= p.Range(target), dist
}

func nearest(viewers []*entity.Entity, target *entity.Entity) float32 {
	if len(viewers) == 0 {
		return -1
	}
	best := float32(math.MaxFloat32)
	for _, v := range viewers {
		if d := v.Position.Distance(target.Position); d < best {
			best = d
		}
	}
	return best
}
