package system

import (
	"time"

	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/request"
	"go.uber.org/zap"
)

// RequestSweepSystem times out stale requests. Phase 1 (PreUpdate).
type RequestSweepSystem struct {
	layer     *request.Layer
	interval  uint32
	tickCount uint32
	log       *zap.Logger
}

func NewRequestSweepSystem(layer *request.Layer, intervalTicks uint32, log *zap.Logger) *RequestSweepSystem {
	if intervalTicks == 0 {
		intervalTicks = 1
	}
	return &RequestSweepSystem{layer: layer, interval: intervalTicks, log: log}
}

func (s *RequestSweepSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *RequestSweepSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	if n := s.layer.Sweep(); n > 0 {
		s.log.Debug("requests timed out", zap.Int("count", n))
	}
}
