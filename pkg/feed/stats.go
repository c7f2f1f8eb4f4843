package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const metricsNamespace = "blockfeed"

var (
	messagesInDesc = prometheus.NewDesc(metricsNamespace+"_messages_in_total",
		"Number of events published into the dispatch queue", nil, nil)
	messagesOutDesc = prometheus.NewDesc(metricsNamespace+"_messages_out_total",
		"Number of events taken from the dispatch queue for broadcasting", nil, nil)
	messagesSentDesc = prometheus.NewDesc(metricsNamespace+"_messages_sent_total",
		"Number of frames successfully delivered to subscribers", nil, nil)
	subscribersDesc = prometheus.NewDesc(metricsNamespace+"_subscribers",
		"Number of registered subscriber connections", nil, nil)
	queueDepthDesc = prometheus.NewDesc(metricsNamespace+"_queue_depth",
		"Number of events waiting in the dispatch queue", nil, nil)
)

// Stats holds the notifier counters. It's shared by all notifier components
// and only uses atomic operations. Stats implements prometheus.Collector.
type Stats struct {
	messagesIn   atomic.Int64
	messagesOut  atomic.Int64
	messagesSent atomic.Int64
	subscribers  atomic.Int64
	queueDepth   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	MessagesIn   int64 `json:"messagesin"`
	MessagesOut  int64 `json:"messagesout"`
	MessagesSent int64 `json:"messagessent"`
	Subscribers  int64 `json:"subscribers"`
	QueueDepth   int64 `json:"queuedepth"`
}

// NewStats returns zeroed Stats.
func NewStats() *Stats {
	return new(Stats)
}

// MessagesIn returns the number of published events.
func (s *Stats) MessagesIn() int64 { return s.messagesIn.Load() }

// MessagesOut returns the number of events dispatched by the worker.
func (s *Stats) MessagesOut() int64 { return s.messagesOut.Load() }

// MessagesSent returns the number of frames delivered to subscribers.
func (s *Stats) MessagesSent() int64 { return s.messagesSent.Load() }

// Subscribers returns the number of registered connections.
func (s *Stats) Subscribers() int64 { return s.subscribers.Load() }

// QueueDepth returns the number of pending events.
func (s *Stats) QueueDepth() int64 { return s.queueDepth.Load() }

// Snapshot returns the current values of all counters. Counters are read
// one by one, so the snapshot is not atomic as a whole.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		MessagesIn:   s.MessagesIn(),
		MessagesOut:  s.MessagesOut(),
		MessagesSent: s.MessagesSent(),
		Subscribers:  s.Subscribers(),
		QueueDepth:   s.QueueDepth(),
	}
}

// Describe implements prometheus.Collector interface.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- messagesInDesc
	ch <- messagesOutDesc
	ch <- messagesSentDesc
	ch <- subscribersDesc
	ch <- queueDepthDesc
}

// Collect implements prometheus.Collector interface.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	snap := s.Snapshot()
	ch <- prometheus.MustNewConstMetric(messagesInDesc, prometheus.CounterValue, float64(snap.MessagesIn))
	ch <- prometheus.MustNewConstMetric(messagesOutDesc, prometheus.CounterValue, float64(snap.MessagesOut))
	ch <- prometheus.MustNewConstMetric(messagesSentDesc, prometheus.CounterValue, float64(snap.MessagesSent))
	ch <- prometheus.MustNewConstMetric(subscribersDesc, prometheus.GaugeValue, float64(snap.Subscribers))
	ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(snap.QueueDepth))
}
