package system

import (
	"time"

	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net"
	"github.com/replinet/server/internal/net/packet"
	"go.uber.org/zap"
)

// Acceptor hands new and dead sessions to the game loop. *net.Server
// implements it; clients pass nil.
type Acceptor interface {
	NewSessions() <-chan *net.Session
	DeadSessions() <-chan entity.ConnID
	NotifyDead(id entity.ConnID)
}

// InputSystem drains packet queues from all sessions and dispatches them
// through the packet registry. Phase 0 (Input).
type InputSystem struct {
	acceptor     Acceptor
	registry     *packet.Registry
	store        *net.SessionStore
	maxPerTick   int
	onDisconnect func(*net.Session)
	log          *zap.Logger
}

func NewInputSystem(acceptor Acceptor, registry *packet.Registry, store *net.SessionStore, maxPerTick int, onDisconnect func(*net.Session), log *zap.Logger) *InputSystem {
	if maxPerTick <= 0 {
		maxPerTick = 32
	}
	return &InputSystem{
		acceptor:     acceptor,
		registry:     registry,
		store:        store,
		maxPerTick:   maxPerTick,
		onDisconnect: onDisconnect,
		log:          log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	if s.acceptor != nil {
		s.accept()
	}

	for id, sess := range s.store.Raw() {
		if sess.IsClosed() {
			// Messages sent just before the close still count. Dispatch them
			// under the state the session had before it closed.
			s.drain(sess, true)
			sess.FlushOutput()
			if s.onDisconnect != nil {
				s.onDisconnect(sess)
			}
			if s.acceptor != nil {
				s.acceptor.NotifyDead(id)
			}
			s.store.Remove(id)
			continue
		}
		s.drain(sess, false)
	}

	// Early flush: replies produced here reach the writer while the rest of
	// the tick runs.
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}

func (s *InputSystem) accept() {
	for {
		select {
		case sess := <-s.acceptor.NewSessions():
			s.store.Add(sess)
		default:
			goto doneNew
		}
	}
doneNew:

	for {
		select {
		case id := <-s.acceptor.DeadSessions():
			s.store.Remove(id)
		default:
			return
		}
	}
}

func (s *InputSystem) drain(sess *net.Session, closing bool) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case in := <-sess.InQueue:
			state := sess.State()
			if closing {
				state = sess.LastActiveState()
			}
			if err := s.registry.Dispatch(sess, state, in.Data); err != nil {
				s.log.Debug("message dispatch failed",
					zap.Int32("conn", int32(sess.ID)),
					zap.Error(err),
				)
			}
		default:
			return
		}
	}
}
