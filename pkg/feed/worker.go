package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/services/helpers/retry"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// worker is the single consumer of the dispatch queue fanning Envelopes out
// to subscribers.
type worker struct {
	log      *zap.Logger
	queue    *Queue
	registry *Registry
	stats    *Stats
	retry    config.Retry
	// ctx cuts retry backoffs short on shutdown.
	ctx context.Context

	running atomic.Bool
	done    chan struct{}
}

func newWorker(ctx context.Context, cfg config.Retry, q *Queue, r *Registry, stats *Stats, log *zap.Logger) *worker {
	return &worker{
		log:      log,
		queue:    q,
		registry: r,
		stats:    stats,
		retry:    cfg,
		ctx:      ctx,
		done:     make(chan struct{}),
	}
}

// run drains the queue until the Shutdown Envelope.
func (w *worker) run() {
	if !w.running.CAS(false, true) {
		panic("broadcast worker is already running")
	}
	defer close(w.done)

	for {
		// Only the Shutdown Envelope stops the worker, so that everything
		// queued before it is processed.
		env, err := w.queue.Dequeue(context.Background())
		if err != nil {
			w.log.Error("failed to dequeue", zap.Error(err))
			continue
		}
		if env.Kind == Shutdown {
			w.log.Debug("broadcast worker stopped")
			return
		}
		w.stats.messagesOut.Inc()
		w.broadcast(env)
	}
}

// broadcast delivers env to every subscriber of its channel concurrently and
// returns once all deliveries either succeeded or gave up.
func (w *worker) broadcast(env Envelope) {
	var wg sync.WaitGroup
	for _, e := range w.registry.Snapshot() {
		if !e.Has(env.Channel) {
			continue
		}
		wg.Add(1)
		go func(s *Subscriber) {
			defer wg.Done()
			w.deliver(s, env)
		}(e.Subscriber)
	}
	wg.Wait()
}

func (w *worker) deliver(s *Subscriber, env Envelope) {
	if s.Detached() {
		return
	}
	p := retry.Policy{
		MaxAttempts: w.retry.MaxAttempts,
		MinDelay:    w.retry.MinDelay,
		MaxDelay:    w.retry.MaxDelay,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			w.log.Debug("failed to send event, retrying",
				zap.Stringer("subscriber", s.ID()),
				zap.String("channel", env.Channel),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	}
	err := p.Do(w.ctx, func(int) error {
		return s.send(env.Payload)
	})
	if err == nil {
		w.stats.messagesSent.Inc()
		return
	}
	if errors.Is(err, context.Canceled) {
		// Shutdown unregisters everyone anyway.
		return
	}
	w.log.Info("subscriber is unreachable, dropping it",
		zap.Stringer("subscriber", s.ID()),
		zap.String("channel", env.Channel),
		zap.Error(err))
	w.registry.Unregister(s)
}
