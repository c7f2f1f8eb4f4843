package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/feed"
)

const (
	wsReadLimit  = 1 << 20
	wsWriteLimit = 5 * time.Second
)

// Dialer opens upstream connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (feed.Conn, error)
}

// WSDialer is a websocket Dialer. Connections it opens ping upstream every
// PongLimit/2 and fail reads if no pong comes from upstream for PongLimit.
type WSDialer struct {
	// Timeout limits the handshake duration.
	Timeout time.Duration
	// PongLimit is config.DefaultPongTimeout if not set.
	PongLimit time.Duration
}

// Dial implements Dialer interface.
func (d *WSDialer) Dial(ctx context.Context, url string) (feed.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.Timeout,
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	pongLimit := d.PongLimit
	if pongLimit <= 0 {
		pongLimit = config.DefaultPongTimeout
	}
	ws.SetReadLimit(wsReadLimit)
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(pongLimit)) })
	if err = ws.SetReadDeadline(time.Now().Add(pongLimit)); err != nil {
		_ = ws.Close()
		return nil, err
	}
	c := &keepAliveConn{
		Conn: feed.NewWSConn(ws, wsWriteLimit),
		stop: make(chan struct{}),
	}
	go c.pingLoop(ws, pongLimit/2)
	return c, nil
}

// keepAliveConn pings upstream until closed.
type keepAliveConn struct {
	feed.Conn
	stop     chan struct{}
	stopOnce sync.Once
}

// Close implements feed.Conn interface.
func (c *keepAliveConn) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return c.Conn.Close()
}

func (c *keepAliveConn) pingLoop(ws *websocket.Conn, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			// WriteControl can be called concurrently with WriteMessage.
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteLimit)); err != nil {
				return
			}
		}
	}
}
