package feed

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// Conn is a duplex text-frame transport. Its method set matches
// *websocket.Conn. WriteMessage is only ever called by one goroutine at a
// time, Close may be called concurrently with anything else.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Subscriber is a Conn registered (or about to be registered) in the
// Registry. It's owned by a single session.
type Subscriber struct {
	id   uuid.UUID
	conn Conn

	// detached is set once Unregister starts, detached subscribers can't
	// be registered again.
	detached  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSubscriber wraps conn into a Subscriber with a random ID.
func NewSubscriber(conn Conn) *Subscriber {
	return &Subscriber{
		id:   uuid.New(),
		conn: conn,
	}
}

// ID returns subscriber identifier.
func (s *Subscriber) ID() uuid.UUID {
	return s.id
}

// Detached checks whether the subscriber was unregistered.
func (s *Subscriber) Detached() bool {
	return s.detached.Load()
}

func (s *Subscriber) send(payload []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Subscriber) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// wsConn sets a write deadline for every frame written to the websocket.
type wsConn struct {
	*websocket.Conn
	writeLimit time.Duration
}

// NewWSConn returns Conn for the given websocket applying writeLimit as a
// deadline to every write (if it's positive).
func NewWSConn(ws *websocket.Conn, writeLimit time.Duration) Conn {
	return &wsConn{Conn: ws, writeLimit: writeLimit}
}

// WriteMessage implements Conn interface.
func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	if c.writeLimit > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeLimit)); err != nil {
			return err
		}
	}
	return c.Conn.WriteMessage(messageType, data)
}
