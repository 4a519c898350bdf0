package interest

import (
	"github.com/replinet/server/internal/entity"
	"go.uber.org/zap"
)

// Manager computes per-observer subscriptions. Implementations register
// themselves as registry hooks so new objects are evaluated immediately.
type Manager interface {
	// Tick runs the periodic rebuild when its interval has elapsed.
	Tick(tick uint32)
	// Rebuild recomputes every ready observer's subscriptions now.
	Rebuild()
	// RebuildPlayer recomputes one observer, e.g. when it becomes ready.
	RebuildPlayer(p *entity.Player)
	// NotifyNewObject evaluates a freshly spawned entity in both directions.
	NotifyNewObject(e *entity.Entity)
	// ShouldSubscribe evaluates the predicate for one pair.
	ShouldSubscribe(p *entity.Player, e *entity.Entity) bool
}

// RebuildManager periodically recomputes every ready observer's full desired
// set against all live entities and applies only the difference.
type RebuildManager struct {
	reg         *entity.Registry
	policy      *Policy
	interval    uint32
	lastRebuild uint32
	log         *zap.Logger
}

func NewRebuildManager(reg *entity.Registry, policy *Policy, interval uint32, log *zap.Logger) *RebuildManager {
	if interval == 0 {
		interval = 1
	}
	m := &RebuildManager{reg: reg, policy: policy, interval: interval, log: log}
	reg.AddHook(m)
	return m
}

func (m *RebuildManager) Tick(tick uint32) {
	if tick-m.lastRebuild < m.interval {
		return
	}
	m.lastRebuild = tick
	m.Rebuild()
}

func (m *RebuildManager) Rebuild() {
	for _, p := range m.reg.ReadyPlayers() {
		m.RebuildPlayer(p)
	}
}

func (m *RebuildManager) RebuildPlayer(p *entity.Player) {
	viewers := p.Owned()
	desired := make(map[entity.ObjectID]*entity.Entity)
	m.reg.Each(func(e *entity.Entity) {
		if m.policy.ShouldSubscribe(p, viewers, e) {
			desired[e.ID] = e
		}
	})
	applyDiff(m.reg, p, desired)
}

func (m *RebuildManager) ShouldSubscribe(p *entity.Player, e *entity.Entity) bool {
	return m.policy.ShouldSubscribe(p, p.Owned(), e)
}

func (m *RebuildManager) NotifyNewObject(e *entity.Entity) {
	notifyNew(m.reg, m.policy, e, func(p *entity.Player) { m.RebuildPlayer(p) })
}

// EntitySpawned implements entity.SpawnHook.
func (m *RebuildManager) EntitySpawned(e *entity.Entity) { m.NotifyNewObject(e) }

// applyDiff subscribes p to desired and drops everything else it watches.
func applyDiff(reg *entity.Registry, p *entity.Player, desired map[entity.ObjectID]*entity.Entity) {
	for _, e := range p.Subscribings() {
		if _, keep := desired[e.ID]; !keep {
			reg.Unsubscribe(p, e, entity.ReasonUnsubscribed)
		}
	}
	for _, e := range sortedDesired(desired) {
		reg.Subscribe(p, e)
	}
}

// notifyNew lets every ready observer see e if it should, and lets e's owner
// see everything its new viewer reveals.
func notifyNew(reg *entity.Registry, policy *Policy, e *entity.Entity, rebuildOwner func(*entity.Player)) {
	for _, p := range reg.ReadyPlayers() {
		if policy.ShouldSubscribe(p, p.Owned(), e) {
			reg.Subscribe(p, e)
		}
	}
	if owner, ok := reg.Player(e.Owner); ok && owner.Ready {
		rebuildOwner(owner)
	}
}
