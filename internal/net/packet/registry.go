package packet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents the connection's current protocol phase.
type SessionState int

const (
	StateHandshake     SessionState = iota // awaiting Hello / Approve
	StateApproved                          // approved, not yet replicating
	StateReady                             // receiving replication
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateApproved:
		return "Approved"
	case StateReady:
		return "Ready"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Connected lists every state in which a peer may talk after approval.
var Connected = []SessionState{StateApproved, StateReady}

// HandlerFunc is the callback signature for message handlers.
// The session is passed as an opaque value to avoid import cycles.
type HandlerFunc func(sess any, r *Reader)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

var ErrStateNotAllowed = errors.New("message not allowed in session state")

// Registry maps message types to handlers with state-based access control.
type Registry struct {
	handlers map[MsgType]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[MsgType]*handlerEntry),
		log:      log,
	}
}

// Register maps a message type to a handler, restricted to the given states.
func (reg *Registry) Register(t MsgType, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[t] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Has reports whether a handler is registered for t.
func (reg *Registry) Has(t MsgType) bool {
	_, ok := reg.handlers[t]
	return ok
}

// Dispatch finds the handler for the type in data[0], validates the session
// state, and calls the handler. Unknown types are ignored.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty message")
	}
	t := MsgType(data[0])

	entry, ok := reg.handlers[t]
	if !ok {
		reg.log.Debug("unknown message type", zap.Stringer("type", t), zap.Stringer("state", state))
		return nil
	}

	if !entry.allowedStates[state] {
		reg.log.Warn("message not allowed in state",
			zap.Stringer("type", t),
			zap.Stringer("state", state),
		)
		return fmt.Errorf("%w: %s in %s", ErrStateNotAllowed, t, state)
	}

	return reg.safeCall(entry.fn, sess, NewMessageReader(data), t)
}

// safeCall executes a handler with panic recovery so a single bad message
// cannot take down the tick loop.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, r *Reader, t MsgType) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Stringer("type", t),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for %s: %v", t, rec)
		}
	}()
	fn(sess, r)
	return nil
}
