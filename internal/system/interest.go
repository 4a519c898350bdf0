package system

import (
	"time"

	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/interest"
)

// InterestSystem recomputes subscriptions after the tick's logic ran.
// Phase 3 (PostUpdate).
type InterestSystem struct {
	mgr   interest.Manager
	clock *coresys.Clock
}

func NewInterestSystem(mgr interest.Manager, clock *coresys.Clock) *InterestSystem {
	return &InterestSystem{mgr: mgr, clock: clock}
}

func (s *InterestSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *InterestSystem) Update(_ time.Duration) {
	s.mgr.Tick(s.clock.Now())
}
