package feed

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/event"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

const testAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

func TestNewInvalidConfig(t *testing.T) {
	cfg := testNotifierConfig()
	cfg.RegistryShards = -1
	_, err := New(cfg, nil, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestEngineChannels(t *testing.T) {
	e := newTestEngine(t, nil)

	_, a := subscribe(t, e, event.BlocksChannel)
	require.NoError(t, e.Publish(event.BlocksChannel, []byte("payload1")))
	require.Equal(t, []byte("payload1"), waitFrame(t, a))
	requireNoFrame(t, a)

	_, b := subscribe(t, e, testAddress)
	_, c := subscribe(t, e, event.TxsChannel)
	tx := &event.Transaction{
		TxID:      "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16",
		ValueOut:  1000000000,
		Addresses: []string{testAddress},
	}
	require.NoError(t, e.PublishTransaction(tx))

	var atx event.AddressTransaction
	require.NoError(t, json.Unmarshal(waitFrame(t, b), &atx))
	require.Equal(t, event.AddressTxEventName, atx.EventName)
	require.Equal(t, testAddress, atx.Address)
	require.Equal(t, tx.TxID, atx.TxID)
	require.Equal(t, tx.ValueOut, atx.ValueOut)

	var full event.Transaction
	require.NoError(t, json.Unmarshal(waitFrame(t, c), &full))
	require.Equal(t, event.TxEventName, full.EventName)
	require.Equal(t, tx.TxID, full.TxID)
	require.Equal(t, []string{testAddress}, full.Addresses)

	requireNoFrame(t, a)
	requireNoFrame(t, b)
	requireNoFrame(t, c)
}

func TestEngineFIFOWithFailingSubscriber(t *testing.T) {
	const n = 20
	e := newTestEngine(t, nil)

	_, good := subscribe(t, e, event.BlocksChannel)
	bad, broken := subscribe(t, e, event.BlocksChannel)
	broken.failing.Store(true)

	for i := 0; i < n; i++ {
		require.NoError(t, e.Publish(event.BlocksChannel, []byte(strconv.Itoa(i))))
	}
	for i := 0; i < n; i++ {
		require.Equal(t, strconv.Itoa(i), string(waitFrame(t, good)))
	}

	// Transport is closed last in Unregister.
	require.Eventually(t, broken.isClosed, time.Second, 5*time.Millisecond)
	require.True(t, bad.Detached())
	require.EqualValues(t, 3, broken.writes.Load())
	require.Equal(t, 1, e.registry.Len())
	require.EqualValues(t, 1, e.Stats().Subscribers())
	require.Eventually(t, func() bool { return e.Stats().MessagesSent() == n }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, n, e.Stats().MessagesIn())
	require.EqualValues(t, n, e.Stats().MessagesOut())
}

func TestEngineRetrySucceeds(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.Notifier) {
		cfg.SendRetry.MaxAttempts = 1000
	})
	s, c := subscribe(t, e, event.BlocksChannel)
	c.failing.Store(true)

	require.NoError(t, e.Publish(event.BlocksChannel, []byte("data")))
	require.Eventually(t, func() bool { return c.writes.Load() >= 2 }, time.Second, time.Millisecond)
	c.failing.Store(false)
	require.Equal(t, []byte("data"), waitFrame(t, c))
	require.False(t, s.Detached())
}

func TestEngineDedup(t *testing.T) {
	e := newTestEngine(t, nil)
	_, c := subscribe(t, e, event.BlocksChannel)

	b := &event.Block{Hash: "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f", Height: 0}
	require.NoError(t, e.PublishBlock(b))
	require.NoError(t, e.PublishBlock(b))

	var got event.Block
	require.NoError(t, json.Unmarshal(waitFrame(t, c), &got))
	require.Equal(t, event.BlockEventName, got.EventName)
	require.Equal(t, b.Hash, got.Hash)
	requireNoFrame(t, c)
	require.EqualValues(t, 1, e.Stats().MessagesIn())

	// Events without hash are never deduplicated.
	require.NoError(t, e.PublishBlock(&event.Block{}))
	require.NoError(t, e.PublishBlock(&event.Block{}))
	waitFrame(t, c)
	waitFrame(t, c)
}

func TestEngineDedupDisabled(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.Notifier) {
		cfg.DedupCacheSize = 0
	})
	_, c := subscribe(t, e, event.TxsChannel)

	tx := &event.Transaction{TxID: "aa"}
	require.NoError(t, e.PublishTransaction(tx))
	require.NoError(t, e.PublishTransaction(tx))
	waitFrame(t, c)
	waitFrame(t, c)
}

func TestEngineShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e, err := New(testNotifierConfig(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	e.Start()

	c := newTestConn()
	done := make(chan struct{})
	go func() {
		e.Serve(c, nil)
		close(done)
	}()
	c.send(t, event.SubscribeToBlocksToken)
	require.Eventually(t, func() bool { return e.registry.Len() == 1 }, time.Second, time.Millisecond)

	// A stuck subscriber doesn't hold the shutdown for long.
	_, broken := subscribe(t, e, event.BlocksChannel)
	broken.failing.Store(true)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Publish(event.BlocksChannel, nil))
	}
	e.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session wasn't closed")
	}
	require.True(t, c.isClosed())
	require.True(t, broken.isClosed())
	require.EqualValues(t, 5, e.Stats().MessagesOut())
	require.EqualValues(t, 0, e.Stats().Subscribers())
	require.Equal(t, 0, e.queue.Len())

	require.ErrorIs(t, e.Publish(event.BlocksChannel, nil), ErrShuttingDown)
	require.ErrorIs(t, e.PublishBlock(&event.Block{Hash: "01"}), ErrShuttingDown)
	require.ErrorIs(t, e.PublishTransaction(&event.Transaction{TxID: "01"}), ErrShuttingDown)
	require.ErrorIs(t, e.registry.Register(NewSubscriber(newTestConn()), event.BlocksChannel), ErrShuttingDown)

	// Shutdown and Start are no-op now.
	e.Shutdown()
	e.Start()
}

func TestEngineShutdownIdleSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e, err := New(testNotifierConfig(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	e.Start()

	c, done := serve(t, e, nil)
	require.Eventually(t, func() bool {
		e.sessionsLock.Lock()
		defer e.sessionsLock.Unlock()
		return len(e.sessions) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, 0, e.registry.Len())

	e.Shutdown()
	waitDone(t, done)
	require.True(t, c.isClosed())
	require.EqualValues(t, 0, e.Stats().Subscribers())
	require.Empty(t, e.sessions)
}

func TestEnginePublishDuringShutdown(t *testing.T) {
	const publishers = 8

	e, err := New(testNotifierConfig(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	e.Start()

	var (
		wg      sync.WaitGroup
		started = make(chan struct{}, publishers)
	)
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			for e.Publish(event.BlocksChannel, []byte("data")) == nil {
			}
		}()
	}
	for i := 0; i < publishers; i++ {
		<-started
	}
	e.Shutdown()
	wg.Wait()

	// Nothing is queued behind the Shutdown Envelope.
	require.Equal(t, 0, e.queue.Len())
	require.EqualValues(t, 0, e.Stats().QueueDepth())
	require.Equal(t, e.Stats().MessagesIn(), e.Stats().MessagesOut())
}

func TestEngineShutdownNotStarted(t *testing.T) {
	e, err := New(testNotifierConfig(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, c := subscribe(t, e, event.BlocksChannel)
	e.Shutdown()
	require.True(t, c.isClosed())
}

func TestEngineName(t *testing.T) {
	e := newTestEngine(t, nil)
	require.Equal(t, "notifier", e.Name())
}
