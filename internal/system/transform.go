package system

import (
	"time"

	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/entity"
)

// TransformSystem copies host transforms into the registry before interest
// and replication read them. Phase 1 (PreUpdate).
type TransformSystem struct {
	reg *entity.Registry
}

func NewTransformSystem(reg *entity.Registry) *TransformSystem {
	return &TransformSystem{reg: reg}
}

func (s *TransformSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *TransformSystem) Update(_ time.Duration) {
	s.reg.PullTransforms()
}
