package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain packet queues
	PhasePreUpdate               // 1: deliver last tick's events, expire requests
	PhaseUpdate                  // 2: scene loading, pings, host logic
	PhasePostUpdate              // 3: interest management
	PhaseOutput                  // 4: build + send packets
	PhasePersist                 // 5: checkpoint ids and ownership
	PhaseCleanup                 // 6: end-of-tick housekeeping
)

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
