package system

import (
	"sort"
	"time"
)

// Clock counts ticks. Tick 0 is never observed by systems: the runner
// advances before the first update.
type Clock struct {
	tick uint32
}

// Now returns the current tick.
func (c *Clock) Now() uint32 { return c.tick }

func (c *Clock) advance() { c.tick++ }

// Runner executes systems in phase order each tick. Systems sharing a phase
// run in registration order.
type Runner struct {
	systems []System
	sorted  bool
	clock   Clock
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Clock returns the runner's tick clock.
func (r *Runner) Clock() *Clock { return &r.clock }

func (r *Runner) Tick(dt time.Duration) {
	r.ensureSorted()
	r.clock.advance()
	for _, s := range r.systems {
		s.Update(dt)
	}
}

// TickPhase runs only the systems of one phase without advancing the clock.
// Used to poll input between full ticks.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(dt)
		}
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
