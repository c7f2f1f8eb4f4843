/*
Package feed implements the event distribution engine: subscribers register
their connections for channels, published events go through a single FIFO
dispatch queue and a single broadcast worker fans them out to every
subscriber of the event channel retrying failed sends.
*/
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/event"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Engine is the notifier. It owns the registry, the dispatch queue and the
// broadcast worker.
type Engine struct {
	log      *zap.Logger
	stats    *Stats
	registry *Registry
	queue    *Queue
	worker   *worker
	// recent holds hashes of recently published blocks and transactions,
	// it's nil if deduplication is disabled.
	recent *lru.Cache
	cancel context.CancelFunc

	lifecycle sync.Mutex
	started   bool
	stopped   atomic.Bool
	// publishLock orders publications against the Shutdown Envelope.
	publishLock sync.RWMutex

	// sessions holds subscribers of all running sessions, including the
	// ones that are not registered for any channel yet.
	sessionsLock sync.Mutex
	sessions     map[*Subscriber]struct{}
}

// New creates an Engine, it needs to be started with Start to deliver
// anything.
func New(cfg config.Notifier, stats *Stats, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid notifier configuration: %w", err)
	}
	if stats == nil {
		stats = NewStats()
	}
	var recent *lru.Cache
	if cfg.DedupCacheSize > 0 {
		var err error
		recent, err = lru.New(cfg.DedupCacheSize)
		if err != nil {
			return nil, fmt.Errorf("can't create deduplication cache: %w", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	var (
		q = NewQueue(stats)
		r = NewRegistry(cfg, stats, log)
	)
	return &Engine{
		log:      log,
		stats:    stats,
		registry: r,
		queue:    q,
		worker:   newWorker(ctx, cfg.SendRetry, q, r, stats, log),
		recent:   recent,
		cancel:   cancel,
		sessions: make(map[*Subscriber]struct{}),
	}, nil
}

// Name returns service name.
func (e *Engine) Name() string {
	return "notifier"
}

// Start runs the broadcast worker. Subsequent calls are no-op, Start after
// Shutdown does nothing.
func (e *Engine) Start() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.started || e.stopped.Load() {
		return
	}
	e.started = true
	e.log.Info("starting notifier")
	go e.worker.run()
}

// Shutdown stops accepting registrations and publications, unregisters all
// subscribers (closing every running session even if it has no
// subscriptions) and stops the broadcast worker once everything queued before
// is processed. It can only be called once, subsequent calls are no-op.
func (e *Engine) Shutdown() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.publishLock.Lock()
	stopping := e.stopped.CAS(false, true)
	e.publishLock.Unlock()
	if !stopping {
		return
	}
	e.log.Info("shutting down notifier")
	e.registry.Close()
	n := e.registry.UnregisterAll()
	e.log.Debug("subscribers unregistered", zap.Int("count", n))
	n = e.closeSessions()
	e.log.Debug("sessions closed", zap.Int("count", n))
	e.cancel()
	e.queue.Enqueue(shutdownEnvelope)
	if e.started {
		<-e.worker.done
	}
}

// Stats returns notifier counters.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Publish queues payload for delivery to subscribers of channel. It never
// blocks waiting for the delivery.
func (e *Engine) Publish(channel string, payload []byte) error {
	e.publishLock.RLock()
	defer e.publishLock.RUnlock()
	if e.stopped.Load() {
		return ErrShuttingDown
	}
	e.queue.Enqueue(NewPublication(channel, payload))
	e.stats.messagesIn.Inc()
	return nil
}

// PublishBlock publishes b to BlocksChannel. Blocks seen recently (by hash)
// are skipped.
func (e *Engine) PublishBlock(b *event.Block) error {
	if e.stopped.Load() {
		return ErrShuttingDown
	}
	if e.seen("b" + b.Hash) {
		e.log.Debug("duplicate block skipped", zap.String("hash", b.Hash))
		return nil
	}
	data, err := b.Bytes()
	if err != nil {
		return fmt.Errorf("can't marshal block event: %w", err)
	}
	return e.Publish(event.BlocksChannel, data)
}

// PublishTransaction publishes tx to TxsChannel and its per-address
// projections to every address channel of tx. Transactions seen recently
// (by ID) are skipped.
func (e *Engine) PublishTransaction(tx *event.Transaction) error {
	if e.stopped.Load() {
		return ErrShuttingDown
	}
	if e.seen("t" + tx.TxID) {
		e.log.Debug("duplicate transaction skipped", zap.String("txid", tx.TxID))
		return nil
	}
	data, err := tx.Bytes()
	if err != nil {
		return fmt.Errorf("can't marshal transaction event: %w", err)
	}
	if err = e.Publish(event.TxsChannel, data); err != nil {
		return err
	}
	for _, ev := range tx.AddressEvents() {
		data, err = json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("can't marshal address event: %w", err)
		}
		if err = e.Publish(ev.Address, data); err != nil {
			return err
		}
	}
	return nil
}

// seen checks whether key was published recently and remembers it.
func (e *Engine) seen(key string) bool {
	if e.recent == nil || len(key) == 1 {
		return false
	}
	ok, _ := e.recent.ContainsOrAdd(key, struct{}{})
	return ok
}

// addSession tracks s until removeSession, it fails after Shutdown.
func (e *Engine) addSession(s *Subscriber) error {
	e.sessionsLock.Lock()
	defer e.sessionsLock.Unlock()
	if e.stopped.Load() {
		return ErrShuttingDown
	}
	e.sessions[s] = struct{}{}
	return nil
}

func (e *Engine) removeSession(s *Subscriber) {
	e.sessionsLock.Lock()
	delete(e.sessions, s)
	e.sessionsLock.Unlock()
}

// closeSessions unregisters subscribers of all running sessions and returns
// their number. Sessions end as soon as their transport is closed.
func (e *Engine) closeSessions() int {
	e.sessionsLock.Lock()
	subs := make([]*Subscriber, 0, len(e.sessions))
	for s := range e.sessions {
		subs = append(subs, s)
	}
	e.sessionsLock.Unlock()

	for _, s := range subs {
		e.registry.Unregister(s)
	}
	return len(subs)
}
