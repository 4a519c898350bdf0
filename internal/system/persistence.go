package system

import (
	"context"
	"fmt"
	"time"

	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/persist"
	"go.uber.org/zap"
)

// PersistenceSystem periodically checkpoints the highest allocated object id
// and writes out the ownership and session journal. Phase 5 (Persist).
type PersistenceSystem struct {
	ids       *entity.IDAllocator
	store     *persist.ObjectStore
	journal   *persist.Journal
	log       *zap.Logger
	tickCount uint32
	interval  uint32 // checkpoint every N ticks
	saved     uint32
}

func NewPersistenceSystem(ids *entity.IDAllocator, store *persist.ObjectStore, journal *persist.Journal, log *zap.Logger, intervalTicks uint32) *PersistenceSystem {
	if intervalTicks == 0 {
		intervalTicks = 1
	}
	return &PersistenceSystem{
		ids:      ids,
		store:    store,
		journal:  journal,
		log:      log,
		interval: intervalTicks,
	}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	if err := s.checkpoint(); err != nil {
		s.log.Error("checkpoint failed", zap.Error(err))
	}
}

// Flush checkpoints immediately. Called for graceful shutdown.
func (s *PersistenceSystem) Flush() error {
	return s.checkpoint()
}

func (s *PersistenceSystem) checkpoint() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if highest := uint32(s.ids.Highest()); highest > s.saved {
		if err := s.store.SaveHighestObjectID(ctx, highest); err != nil {
			return fmt.Errorf("save highest object id: %w", err)
		}
		s.saved = highest
	}
	if s.journal == nil || s.journal.Len() == 0 {
		return nil
	}
	n := s.journal.Len()
	if err := s.journal.Flush(ctx, s.store); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	s.log.Debug(fmt.Sprintf("journal flushed  records=%d", n))
	return nil
}
