package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/event"
	"github.com/nspcc-dev/blockfeed/pkg/feed"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHandler(t *testing.T) {
	cfg := config.Default().ApplicationConfiguration.Notifier
	stats := feed.NewStats()
	e, err := feed.New(cfg, stats, zaptest.NewLogger(t))
	require.NoError(t, err)
	// Not started, so everything stays queued.
	require.NoError(t, e.Publish(event.BlocksChannel, []byte("{}")))
	require.NoError(t, e.Publish(event.TxsChannel, []byte("{}")))

	h := NewHandler(stats, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"messagesin":2,"messagesout":0,"messagessent":0,"subscribers":0,"queuedepth":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, Path, nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestService(t *testing.T) {
	stats := feed.NewStats()
	cfg := config.BasicService{Enabled: true, Addresses: []string{"localhost:0"}}
	s := NewService(cfg, stats, zaptest.NewLogger(t))
	require.Equal(t, "Status", s.Name())
	require.NoError(t, s.Start())
	t.Cleanup(s.ShutDown)

	resp, err := http.Get("http://" + s.Addresses()[0] + Path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap feed.StatsSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, feed.StatsSnapshot{}, snap)
}
