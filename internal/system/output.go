package system

import (
	"time"

	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/net"
	"github.com/replinet/server/internal/replication"
)

// ReplicationSystem builds this tick's sync messages. It must be registered
// before OutputSystem so they leave in the same tick. Phase 4 (Output).
type ReplicationSystem struct {
	engine *replication.Engine
	clock  *coresys.Clock
}

func NewReplicationSystem(engine *replication.Engine, clock *coresys.Clock) *ReplicationSystem {
	return &ReplicationSystem{engine: engine, clock: clock}
}

func (s *ReplicationSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *ReplicationSystem) Update(_ time.Duration) {
	s.engine.Tick(s.clock.Now())
}

// OutputSystem flushes all buffered output packets to session OutQueues.
// Phase 4 (Output).
type OutputSystem struct {
	store *net.SessionStore
}

func NewOutputSystem(store *net.SessionStore) *OutputSystem {
	return &OutputSystem{store: store}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}
