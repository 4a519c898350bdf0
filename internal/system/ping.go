package system

import (
	"time"

	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/handler"
	"github.com/replinet/server/internal/net"
	"github.com/replinet/server/internal/net/packet"
)

// PingSystem measures round-trip time to every approved peer.
// Phase 2 (Update).
type PingSystem struct {
	store     *net.SessionStore
	interval  uint32
	tickCount uint32
	now       func() time.Time
}

func NewPingSystem(store *net.SessionStore, intervalTicks uint32) *PingSystem {
	if intervalTicks == 0 {
		intervalTicks = 1
	}
	return &PingSystem{store: store, interval: intervalTicks, now: time.Now}
}

func (s *PingSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *PingSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0

	msg := handler.EncodePing(s.now().UnixNano())
	s.store.ForEach(func(sess *net.Session) {
		switch sess.State() {
		case packet.StateApproved, packet.StateReady:
			sess.Send(packet.Unreliable, msg)
		}
	})
}
