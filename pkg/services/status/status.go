/*
Package status provides a read-only JSON view of notifier counters.
*/
package status

import (
	"encoding/json"
	"net/http"

	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/feed"
	"github.com/nspcc-dev/blockfeed/pkg/services/metrics"
	"go.uber.org/zap"
)

// Path is the status endpoint path.
const Path = "/status"

// Handler serves StatsSnapshot as JSON.
type Handler struct {
	stats *feed.Stats
	log   *zap.Logger
}

// NewHandler returns a status handler for the given counters.
func NewHandler(stats *feed.Stats, log *zap.Logger) *Handler {
	return &Handler{stats: stats, log: log}
}

// ServeHTTP implements http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(h.stats.Snapshot()); err != nil {
		h.log.Error("failed to write status response", zap.Error(err))
	}
}

// NewService creates a service serving the status endpoint on all configured
// addresses.
func NewService(cfg config.BasicService, stats *feed.Stats, log *zap.Logger) *metrics.Service {
	mux := http.NewServeMux()
	mux.Handle(Path, NewHandler(stats, log))

	return metrics.NewService("Status", metrics.NewServers(cfg, mux), cfg, log)
}
