package feed

import (
	"errors"
	"sync"
	"time"

	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/twmb/murmur3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrShuttingDown is returned for registrations and publications made
	// after the notifier started shutting down.
	ErrShuttingDown = errors.New("notifier is shutting down")
	// ErrDetached is returned when registering an already unregistered
	// subscriber.
	ErrDetached = errors.New("subscriber is unregistered")
)

// channelSet is never modified after being stored in the registry, updates
// replace it with a copy.
type channelSet map[string]struct{}

type registryShard struct {
	lock sync.RWMutex
	subs map[*Subscriber]channelSet
}

// Registry maps subscribers to the channels they're subscribed to. It's
// sharded by subscriber ID, every shard is guarded by its own lock.
type Registry struct {
	log    *zap.Logger
	stats  *Stats
	shards []*registryShard
	closed atomic.Bool

	removeAttempts int
	removeHoldoff  time.Duration
}

// Entry is a registry snapshot element.
type Entry struct {
	Subscriber *Subscriber
	channels   channelSet
}

// Has checks whether the entry is subscribed to ch.
func (e Entry) Has(ch string) bool {
	_, ok := e.channels[ch]
	return ok
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg config.Notifier, stats *Stats, log *zap.Logger) *Registry {
	n := cfg.RegistryShards
	if n <= 0 {
		n = 1
	}
	attempts := cfg.RemoveAttempts
	if attempts <= 0 {
		attempts = 1
	}
	r := &Registry{
		log:            log,
		stats:          stats,
		shards:         make([]*registryShard, n),
		removeAttempts: attempts,
		removeHoldoff:  cfg.RemoveHoldoff,
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{subs: make(map[*Subscriber]channelSet)}
	}
	return r
}

func (r *Registry) shard(s *Subscriber) *registryShard {
	return r.shards[murmur3.Sum32(s.id[:])%uint32(len(r.shards))]
}

// Register adds ch to the set of channels of s, creating the entry if
// needed. Registering the same channel twice is a no-op.
func (r *Registry) Register(s *Subscriber, ch string) error {
	sh := r.shard(s)
	sh.lock.Lock()
	// Both checks are done under the shard lock, so that UnregisterAll
	// and Unregister can't miss an entry added concurrently.
	if r.closed.Load() {
		sh.lock.Unlock()
		return ErrShuttingDown
	}
	if s.Detached() {
		sh.lock.Unlock()
		return ErrDetached
	}
	old, existed := sh.subs[s]
	if _, ok := old[ch]; ok {
		sh.lock.Unlock()
		return nil
	}
	set := make(channelSet, len(old)+1)
	for c := range old {
		set[c] = struct{}{}
	}
	set[ch] = struct{}{}
	sh.subs[s] = set
	sh.lock.Unlock()

	if !existed {
		r.stats.subscribers.Inc()
	}
	return nil
}

// Unregister removes s from the registry and closes its transport. If the
// shard is contended, removal is retried a configured number of times with
// a fixed holdoff, after that it waits for the shard lock. The transport is
// closed in any case. It's safe to call Unregister more than once.
func (r *Registry) Unregister(s *Subscriber) {
	s.detached.Store(true)

	var (
		sh     = r.shard(s)
		locked bool
	)
	for i := 0; i < r.removeAttempts; i++ {
		if sh.lock.TryLock() {
			locked = true
			break
		}
		time.Sleep(r.removeHoldoff)
	}
	if !locked {
		r.log.Debug("registry shard is contended, forcing removal",
			zap.Stringer("subscriber", s.ID()),
			zap.Int("attempts", r.removeAttempts))
		sh.lock.Lock()
	}
	_, removed := sh.subs[s]
	delete(sh.subs, s)
	sh.lock.Unlock()

	if removed {
		r.stats.subscribers.Dec()
	}
	if err := s.close(); err != nil {
		r.log.Debug("failed to close subscriber connection",
			zap.Stringer("subscriber", s.ID()),
			zap.Error(err))
	}
}

// Snapshot returns all current entries. It can be traversed without any
// locks, entries added or removed after the call may or may not be there.
func (r *Registry) Snapshot() []Entry {
	var res []Entry
	for _, sh := range r.shards {
		sh.lock.RLock()
		for s, set := range sh.subs {
			res = append(res, Entry{Subscriber: s, channels: set})
		}
		sh.lock.RUnlock()
	}
	return res
}

// Subscribed checks whether s is registered for ch.
func (r *Registry) Subscribed(s *Subscriber, ch string) bool {
	sh := r.shard(s)
	sh.lock.RLock()
	defer sh.lock.RUnlock()
	_, ok := sh.subs[s][ch]
	return ok
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	var n int
	for _, sh := range r.shards {
		sh.lock.RLock()
		n += len(sh.subs)
		sh.lock.RUnlock()
	}
	return n
}

// Close makes the registry reject new registrations.
func (r *Registry) Close() {
	r.closed.Store(true)
}

// UnregisterAll unregisters every subscriber and returns their number.
func (r *Registry) UnregisterAll() int {
	entries := r.Snapshot()
	for _, e := range entries {
		r.Unregister(e.Subscriber)
	}
	return len(entries)
}
