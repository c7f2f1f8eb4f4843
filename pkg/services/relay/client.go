/*
Package relay implements the upstream forwarder: a websocket client
subscribing to another notifier instance and republishing everything it
gets into the local one.
*/
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/event"
	"github.com/nspcc-dev/blockfeed/pkg/feed"
	"github.com/nspcc-dev/blockfeed/pkg/services/helpers/retry"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrClosed is returned from Init after Close.
var ErrClosed = errors.New("relay client is closed")

// Publisher accepts events received from upstream, it's implemented by
// *feed.Engine.
type Publisher interface {
	PublishBlock(*event.Block) error
	PublishTransaction(*event.Transaction) error
}

// Client is the upstream forwarder client.
type Client struct {
	log     *zap.Logger
	url     string
	dialer  Dialer
	pub     Publisher
	policy  retry.Policy
	breaker *retry.Breaker

	// active is dropped by Close, a receive loop failing after that
	// doesn't reconnect.
	active  atomic.Bool
	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	lock sync.Mutex
	conn feed.Conn
}

// New creates a Client for the given upstream configuration, a websocket
// dialer is used if dialer is nil. Init must be called to connect.
func New(cfg config.Relay, dialer Dialer, pub Publisher, log *zap.Logger) *Client {
	if dialer == nil {
		dialer = &WSDialer{Timeout: cfg.DialTimeout, PongLimit: cfg.PongTimeout}
	}
	log = log.With(zap.String("upstream", cfg.URL))
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		log:    log,
		url:    cfg.URL,
		dialer: dialer,
		pub:    pub,
		policy: retry.Policy{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			MinDelay:    cfg.Reconnect.MinDelay,
			MaxDelay:    cfg.Reconnect.MaxDelay,
			OnRetry: func(attempt int, delay time.Duration, err error) {
				log.Warn("failed to connect to upstream, retrying",
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay),
					zap.Error(err))
			},
		},
		breaker: &retry.Breaker{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.active.Store(true)
	return c
}

// Name returns service name.
func (c *Client) Name() string {
	return "relay"
}

// Init connects to upstream and subscribes to blocks and transactions. It
// blocks until the connection is established, reconnection attempts are
// exhausted, ctx is done or the client is closed. On success it starts the
// receive loop which reconnects on any failure until Close. Init can only
// be called once.
func (c *Client) Init(ctx context.Context) error {
	if !c.active.Load() {
		return ErrClosed
	}
	if !c.started.CAS(false, true) {
		return errors.New("relay client is already initialized")
	}
	conn, err := c.connect(ctx)
	if err != nil {
		close(c.done)
		return err
	}
	c.log.Info("connected to upstream")
	go c.run(conn)
	return nil
}

// Connected checks whether there is a live upstream connection.
func (c *Client) Connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn != nil
}

// Close stops the client closing upstream connection gracefully and waits
// for the receive loop to finish. Close errors are only logged. It's safe to
// call Close more than once.
func (c *Client) Close() {
	if !c.active.CAS(true, false) {
		return
	}
	c.cancel()

	c.lock.Lock()
	conn := c.conn
	c.conn = nil
	c.lock.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
			c.log.Debug("failed to send close frame", zap.Error(err))
		}
		if err := conn.Close(); err != nil {
			c.log.Warn("failed to close upstream connection", zap.Error(err))
		}
	}
	if c.started.Load() {
		<-c.done
	}
	c.log.Info("relay client stopped")
}

// connect establishes a subscribed connection under the reconnection
// policy, every attempt goes through the breaker.
func (c *Client) connect(ctx context.Context) (feed.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	var conn feed.Conn
	err := c.policy.Do(ctx, func(int) error {
		return c.breaker.Execute(func() error {
			var err error
			conn, err = c.dial(ctx)
			return err
		})
	})
	if err != nil {
		if !c.active.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("can't connect to upstream: %w", err)
	}
	if !c.setConn(conn) {
		_ = conn.Close()
		return nil, ErrClosed
	}
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (feed.Conn, error) {
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	for _, token := range []string{event.SubscribeToBlocksToken, event.SubscribeToTxsToken} {
		if err = conn.WriteMessage(websocket.TextMessage, []byte(token)); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}
	return conn, nil
}

// setConn stores conn unless the client is closed.
func (c *Client) setConn(conn feed.Conn) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if conn != nil && !c.active.Load() {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) run(conn feed.Conn) {
	defer close(c.done)
	for {
		err := c.receive(conn)
		c.setConn(nil)
		_ = conn.Close()
		if !c.active.Load() {
			return
		}
		c.log.Warn("upstream connection lost, reconnecting", zap.Error(err))
		conn, err = c.connect(c.ctx)
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				c.log.Error("giving up on upstream", zap.Error(err))
			}
			return
		}
		c.log.Info("reconnected to upstream")
	}
}

func (c *Client) receive(conn feed.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.handle(data)
	}
}

// handle republishes a single upstream frame as is, anything that is not a
// block or transaction event is dropped.
func (c *Client) handle(data []byte) {
	name, err := event.ParseName(data)
	if err != nil {
		c.log.Debug("malformed upstream frame", zap.Error(err))
		return
	}
	switch name {
	case event.BlockEventName:
		var b *event.Block
		if b, err = event.ParseBlock(data); err == nil {
			err = c.pub.PublishBlock(b)
		}
	case event.TxEventName:
		var tx *event.Transaction
		if tx, err = event.ParseTransaction(data); err == nil {
			err = c.pub.PublishTransaction(tx)
		}
	default:
		c.log.Debug("unexpected upstream event", zap.String("event", string(name)))
		return
	}
	if err != nil {
		c.log.Debug("failed to relay event", zap.String("event", string(name)), zap.Error(err))
	}
}
