package metrics

import (
	"time"

	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const readHeaderTimeout = 10 * time.Second

// NewPrometheusService creates a new service exposing metrics of the given
// gatherer, prometheus.DefaultGatherer is used if it's nil.
func NewPrometheusService(cfg config.BasicService, g prometheus.Gatherer, log *zap.Logger) *Service {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	// share metrics between multiple prometheus handlers
	handler := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return NewService("Prometheus", NewServers(cfg, handler), cfg, log)
}
