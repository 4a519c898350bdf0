package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/replinet/server/internal/entity"
	"go.uber.org/zap"
)

// Server accepts websocket connections and creates Sessions.
// New/dead sessions are communicated to the game loop via channels.
type Server struct {
	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader
	codec    *FrameCodec
	opts     Options
	nextID   atomic.Int32
	newConns chan *Session
	deadCh   chan entity.ConnID
	log      *zap.Logger
}

// NewServer listens on bindAddr and serves the websocket endpoint at path.
// Connection id 0 is reserved for the host's own client.
func NewServer(bindAddr, path string, codec *FrameCodec, opts Options, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		codec:    codec,
		opts:     opts,
		newConns: make(chan *Session, 64),
		deadCh:   make(chan entity.ConnID, 64),
		log:      log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleUpgrade)
	s.http = &http.Server{Handler: mux}
	return s, nil
}

// AcceptLoop runs in its own goroutine until Shutdown.
func (s *Server) AcceptLoop() {
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("http serve failed", zap.Error(err))
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id := entity.ConnID(s.nextID.Add(1))
	conn := newWSConn(c, s.opts.ReadTimeout, s.opts.WriteTimeout, s.opts.MaxMessageSize)
	sess := NewSession(conn, id, s.codec, s.opts, s.log)
	sess.Start()

	s.log.Info(fmt.Sprintf("peer connected  conn=%d  addr=%s", id, sess.RemoteAddr),
		zap.Stringer("trace", sess.TraceID))

	select {
	case s.newConns <- sess:
	default:
		s.log.Warn("connection queue full, rejecting peer")
		sess.Close()
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// NotifyDead reports a dead session to the game loop.
func (s *Server) NotifyDead(id entity.ConnID) {
	select {
	case s.deadCh <- id:
	default:
	}
}

// DeadSessions returns the channel of dead session ids.
func (s *Server) DeadSessions() <-chan entity.ConnID {
	return s.deadCh
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Dial connects a client to a server endpoint. The returned session carries
// entity.ServerConn as its id and is already started.
func Dial(ctx context.Context, url string, codec *FrameCodec, opts Options, log *zap.Logger) (*Session, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn := newWSConn(c, opts.ReadTimeout, opts.WriteTimeout, opts.MaxMessageSize)
	sess := NewSession(conn, entity.ServerConn, codec, opts, log)
	sess.Start()
	return sess, nil
}
