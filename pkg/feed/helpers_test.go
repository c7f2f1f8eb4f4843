package feed

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"
)

var errBrokenPipe = errors.New("broken pipe")

// testConn is an in-memory Conn. Frames sent to in are read by the session,
// written frames go to out.
type testConn struct {
	in  chan []byte
	out chan []byte

	failing   atomic.Bool
	writes    atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
}

func newTestConn() *testConn {
	return &testConn{
		in:     make(chan []byte),
		out:    make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

func (c *testConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *testConn) WriteMessage(_ int, data []byte) error {
	c.writes.Inc()
	if c.failing.Load() {
		return errBrokenPipe
	}
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.out <- data
	return nil
}

func (c *testConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *testConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// send passes a frame to the session and returns once it's read.
func (c *testConn) send(t *testing.T, frame string) {
	select {
	case c.in <- []byte(frame):
	case <-time.After(2 * time.Second):
		t.Fatalf("frame %q wasn't read", frame)
	}
}

func waitFrame(t *testing.T, c *testConn) []byte {
	select {
	case b := <-c.out:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	return nil
}

func requireNoFrame(t *testing.T, c *testConn) {
	select {
	case b := <-c.out:
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func testNotifierConfig() config.Notifier {
	return config.Notifier{
		SendRetry: config.Retry{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		RemoveAttempts: 3,
		RemoveHoldoff:  time.Millisecond,
		RegistryShards: 4,
		DedupCacheSize: 16,
	}
}

func newTestEngine(t *testing.T, f func(*config.Notifier)) *Engine {
	cfg := testNotifierConfig()
	if f != nil {
		f(&cfg)
	}
	e, err := New(cfg, NewStats(), zaptest.NewLogger(t))
	require.NoError(t, err)
	e.Start()
	t.Cleanup(e.Shutdown)
	return e
}

// subscribe registers a new test connection for the given channels.
func subscribe(t *testing.T, e *Engine, channels ...string) (*Subscriber, *testConn) {
	c := newTestConn()
	s := NewSubscriber(c)
	for _, ch := range channels {
		require.NoError(t, e.registry.Register(s, ch))
	}
	return s, c
}
