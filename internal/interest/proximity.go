package interest

import (
	"sort"

	"github.com/replinet/server/internal/entity"
	"go.uber.org/zap"
)

// ProximityManager narrows candidates with a Grid before applying the shared
// predicate. Entities whose range exceeds the cell size and always-visible
// entities are tracked as globals and considered for every observer. Hide
// exceptions still need range, so hidden entities stay in the grid.
type ProximityManager struct {
	reg         *entity.Registry
	policy      *Policy
	grid        *Grid
	globals     map[entity.ObjectID]*entity.Entity
	interval    uint32
	lastRebuild uint32
	log         *zap.Logger
}

func NewProximityManager(reg *entity.Registry, policy *Policy, interval uint32, log *zap.Logger) *ProximityManager {
	if interval == 0 {
		interval = 1
	}
	m := &ProximityManager{
		reg:      reg,
		policy:   policy,
		grid:     NewGrid(policy.DefaultRange),
		globals:  make(map[entity.ObjectID]*entity.Entity),
		interval: interval,
		log:      log,
	}
	reg.AddHook(m)
	return m
}

func (m *ProximityManager) isGlobal(e *entity.Entity) bool {
	return e.AlwaysVisible || m.policy.Range(e) > m.grid.cellSize
}

func (m *ProximityManager) index(e *entity.Entity) {
	if m.isGlobal(e) {
		m.grid.Remove(e.ID)
		m.globals[e.ID] = e
		return
	}
	delete(m.globals, e.ID)
	m.grid.Add(e.ID, e.Position)
}

func (m *ProximityManager) Tick(tick uint32) {
	if tick-m.lastRebuild < m.interval {
		return
	}
	m.lastRebuild = tick
	m.Rebuild()
}

func (m *ProximityManager) Rebuild() {
	m.reg.Each(m.index)
	for _, p := range m.reg.ReadyPlayers() {
		m.RebuildPlayer(p)
	}
}

func (m *ProximityManager) RebuildPlayer(p *entity.Player) {
	viewers := p.Owned()
	desired := make(map[entity.ObjectID]*entity.Entity)
	consider := func(e *entity.Entity) {
		if _, done := desired[e.ID]; done {
			return
		}
		if m.policy.ShouldSubscribe(p, viewers, e) {
			desired[e.ID] = e
		}
	}
	for _, v := range viewers {
		consider(v)
		for _, id := range m.grid.Nearby(v.Position) {
			if e, ok := m.reg.Get(id); ok {
				consider(e)
			}
		}
	}
	for _, e := range m.globals {
		consider(e)
	}
	applyDiff(m.reg, p, desired)
}

func (m *ProximityManager) ShouldSubscribe(p *entity.Player, e *entity.Entity) bool {
	return m.policy.ShouldSubscribe(p, p.Owned(), e)
}

func (m *ProximityManager) NotifyNewObject(e *entity.Entity) {
	m.index(e)
	notifyNew(m.reg, m.policy, e, func(p *entity.Player) { m.RebuildPlayer(p) })
}

// EntitySpawned implements entity.SpawnHook.
func (m *ProximityManager) EntitySpawned(e *entity.Entity) { m.NotifyNewObject(e) }

// EntityDestroyed implements entity.DestroyHook.
func (m *ProximityManager) EntityDestroyed(e *entity.Entity, _ entity.DestroyReason) {
	m.grid.Remove(e.ID)
	delete(m.globals, e.ID)
}

func sortedDesired(m map[entity.ObjectID]*entity.Entity) []*entity.Entity {
	out := make([]*entity.Entity, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
