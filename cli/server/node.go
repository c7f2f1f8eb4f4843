package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/feed"
	"github.com/nspcc-dev/blockfeed/pkg/services/metrics"
	"github.com/nspcc-dev/blockfeed/pkg/services/relay"
	"github.com/nspcc-dev/blockfeed/pkg/services/status"
	"github.com/nspcc-dev/blockfeed/pkg/services/wssrv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// node ties all services together.
type node struct {
	log      *zap.Logger
	stats    *feed.Stats
	engine   *feed.Engine
	ws       *wssrv.Server
	relay    *relay.Client
	services []*metrics.Service
	// relayDone is closed once relay initialization is over.
	relayDone chan struct{}
}

func newNode(cfg config.ApplicationConfiguration, log *zap.Logger, errChan chan error) (*node, error) {
	stats := feed.NewStats()
	engine, err := feed.New(cfg.Notifier, stats, log.With(zap.String("service", "notifier")))
	if err != nil {
		return nil, fmt.Errorf("can't create notifier: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		stats,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	n := &node{
		log:    log,
		stats:  stats,
		engine: engine,
		ws:     wssrv.New(cfg.WebSocket, engine, log, errChan),
		services: []*metrics.Service{
			metrics.NewPrometheusService(cfg.Prometheus, reg, log),
			metrics.NewPprofService(cfg.Pprof, log),
			status.NewService(cfg.Status, stats, log),
		},
		relayDone: make(chan struct{}),
	}
	if cfg.Relay.Enabled {
		n.relay = relay.New(cfg.Relay, nil, engine, log)
	}
	return n, nil
}

// start runs every service. Relay connection is established in background,
// ctx only bounds this initialization.
func (n *node) start(ctx context.Context) error {
	n.engine.Start()
	for _, s := range n.services {
		if err := s.Start(); err != nil {
			return fmt.Errorf("%s service: %w", s.Name(), err)
		}
	}
	n.ws.Start()
	if n.relay == nil {
		close(n.relayDone)
		return nil
	}
	go func() {
		defer close(n.relayDone)
		err := n.relay.Init(ctx)
		if err != nil && !errors.Is(err, relay.ErrClosed) && !errors.Is(err, context.Canceled) {
			n.log.Error("relay initialization failed", zap.Error(err))
		}
	}()
	return nil
}

// shutdown stops services in the reverse order.
func (n *node) shutdown() {
	n.ws.Shutdown()
	if n.relay != nil {
		n.relay.Close()
	}
	<-n.relayDone
	n.engine.Shutdown()
	for i := len(n.services) - 1; i >= 0; i-- {
		n.services[i].ShutDown()
	}
}
