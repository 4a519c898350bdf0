package net

import (
	"sort"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
)

// SessionStore indexes live sessions by connection id. Game loop only.
type SessionStore struct {
	byID map[entity.ConnID]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{byID: make(map[entity.ConnID]*Session)}
}

func (s *SessionStore) Add(sess *Session) { s.byID[sess.ID] = sess }
func (s *SessionStore) Remove(id entity.ConnID) { delete(s.byID, id) }
func (s *SessionStore) Count() int { return len(s.byID) }

// Raw exposes the underlying map for draining loops.
func (s *SessionStore) Raw() map[entity.ConnID]*Session { return s.byID }

func (s *SessionStore) Get(id entity.ConnID) (*Session, bool) {
	sess, ok := s.byID[id]
	return sess, ok
}

// ForEach visits sessions in connection id order.
func (s *SessionStore) ForEach(fn func(*Session)) {
	ids := make([]entity.ConnID, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(s.byID[id])
	}
}

// SendTo buffers data on conn's session; unknown connections are ignored.
func (s *SessionStore) SendTo(conn entity.ConnID, ch packet.Channel, data []byte) {
	if sess, ok := s.byID[conn]; ok {
		sess.Send(ch, data)
	}
}
