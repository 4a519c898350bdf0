package net

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by a closed loopback end.
var ErrConnClosed = errors.New("connection closed")

// Conn is a message-oriented transport carrying encoded frames.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
	RemoteAddr() string
}

type wsConn struct {
	c            *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newWSConn(c *websocket.Conn, readTimeout, writeTimeout time.Duration, maxSize int) *wsConn {
	c.SetReadLimit(int64(maxSize))
	return &wsConn{c: c, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		if w.readTimeout > 0 {
			_ = w.c.SetReadDeadline(time.Now().Add(w.readTimeout))
		}
		kind, msg, err := w.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (w *wsConn) WriteMessage(frame []byte) error {
	if w.writeTimeout > 0 {
		_ = w.c.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.c.WriteMessage(websocket.BinaryMessage, frame)
}

func (w *wsConn) Close() error {
	_ = w.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.c.Close()
}

func (w *wsConn) RemoteAddr() string { return w.c.RemoteAddr().String() }

// loopConn is one end of an in-memory Pipe.
type loopConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
	name string
}

// Pipe returns two connected in-memory ends, used for host mode and tests.
func Pipe(buf int) (Conn, Conn) {
	ab := make(chan []byte, buf)
	ba := make(chan []byte, buf)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &loopConn{in: ba, out: ab, done: done, once: once, name: "loopback:a"}
	b := &loopConn{in: ab, out: ba, done: done, once: once, name: "loopback:b"}
	return a, b
}

func (l *loopConn) ReadMessage() ([]byte, error) {
	// deliver what was written before a close
	select {
	case msg := <-l.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-l.in:
		return msg, nil
	case <-l.done:
		return nil, ErrConnClosed
	}
}

func (l *loopConn) WriteMessage(frame []byte) error {
	msg := append([]byte(nil), frame...)
	select {
	case l.out <- msg:
		return nil
	case <-l.done:
		return ErrConnClosed
	}
}

func (l *loopConn) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *loopConn) RemoteAddr() string { return l.name }
