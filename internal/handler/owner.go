package handler

import (
	"time"

	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net"
	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/persist"
)

// OwnerNotifier tells subscribers about owner changes and journals them.
// Register it with Registry.AddHook.
type OwnerNotifier struct {
	sessions *net.SessionStore
	journal  *persist.Journal
	clock    *coresys.Clock
}

func NewOwnerNotifier(sessions *net.SessionStore, journal *persist.Journal, clock *coresys.Clock) *OwnerNotifier {
	return &OwnerNotifier{sessions: sessions, journal: journal, clock: clock}
}

func (n *OwnerNotifier) OwnerChanged(e *entity.Entity, prev entity.ConnID) {
	msg := EncodeSetObjectOwner(e.ID, e.Owner)
	for _, p := range e.Subscribers() {
		if p.Local || !p.Ready {
			continue
		}
		n.sessions.SendTo(p.ConnID, packet.Reliable, msg)
	}
	if n.journal != nil {
		n.journal.RecordOwnership(persist.OwnershipRecord{
			ObjectID: uint32(e.ID),
			Prev:     int32(prev),
			Owner:    int32(e.Owner),
			Tick:     n.clock.Now(),
			At:       time.Now(),
		})
	}
}
