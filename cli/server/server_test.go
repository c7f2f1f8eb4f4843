package server

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/event"
	"github.com/nspcc-dev/blockfeed/pkg/feed"
	"github.com/nspcc-dev/blockfeed/pkg/services/status"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
	"go.uber.org/zap/zaptest"
)

func newContext(t *testing.T, args ...string) (*cli.Context, *bytes.Buffer) {
	set := flag.NewFlagSet("flagSet", flag.ContinueOnError)
	set.String("config-file", "", "")
	set.Bool("debug", false, "")
	require.NoError(t, set.Parse(args))
	app := cli.NewApp()
	buf := new(bytes.Buffer)
	app.Writer = buf
	return cli.NewContext(app, set, nil), buf
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yml")
	require.NoError(t, os.WriteFile(good, []byte("ApplicationConfiguration:\n  LogLevel: debug\n"), 0644))
	badLevel := filepath.Join(dir, "level.yml")
	require.NoError(t, os.WriteFile(badLevel, []byte("ApplicationConfiguration:\n  LogLevel: loud\n"), 0644))
	badRelay := filepath.Join(dir, "relay.yml")
	require.NoError(t, os.WriteFile(badRelay, []byte("ApplicationConfiguration:\n  Relay:\n    Enabled: true\n"), 0644))

	ctx, buf := newContext(t, "--config-file", good)
	require.NoError(t, checkConfig(ctx))
	require.Contains(t, buf.String(), "configuration is valid")

	for _, path := range []string{badLevel, badRelay, filepath.Join(dir, "missing.yml")} {
		ctx, _ = newContext(t, "--config-file", path)
		require.Error(t, checkConfig(ctx), path)
	}

	ctx, _ = newContext(t, "--config-file", good, "extra")
	require.Error(t, checkConfig(ctx))
}

func TestStartServerBadConfig(t *testing.T) {
	ctx, _ := newContext(t, "--config-file", filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, startServer(ctx))

	ctx, _ = newContext(t, "extra")
	require.Error(t, startServer(ctx))
}

func TestNewCommands(t *testing.T) {
	cmds := NewCommands()
	require.Len(t, cmds, 2)
	require.Equal(t, "node", cmds[0].Name)
	require.Equal(t, "check-config", cmds[1].Name)
}

func testNodeConfig() config.ApplicationConfiguration {
	local := []string{"localhost:0"}
	cfg := config.Default().ApplicationConfiguration
	cfg.Notifier.SendRetry.MinDelay = time.Millisecond
	cfg.Notifier.SendRetry.MaxDelay = 10 * time.Millisecond
	cfg.WebSocket.Enabled = true
	cfg.WebSocket.Addresses = local
	cfg.WebSocket.IngestEnabled = true
	cfg.Status = config.BasicService{Enabled: true, Addresses: local}
	cfg.Prometheus = config.BasicService{Enabled: true, Addresses: local}
	return cfg
}

func startNode(t *testing.T, cfg config.ApplicationConfiguration) *node {
	errChan := make(chan error, 4)
	n, err := newNode(cfg, zaptest.NewLogger(t), errChan)
	require.NoError(t, err)
	require.NoError(t, n.start(context.Background()))
	t.Cleanup(n.shutdown)
	return n
}

func TestNodeRelay(t *testing.T) {
	upstream := startNode(t, testNodeConfig())

	cfg := testNodeConfig()
	cfg.WebSocket.IngestEnabled = false
	cfg.Relay.Enabled = true
	cfg.Relay.URL = "ws://" + upstream.ws.Addr() + config.DefaultWebSocketPath
	cfg.Relay.Reconnect.MinDelay = 10 * time.Millisecond
	cfg.Relay.Reconnect.MaxDelay = 50 * time.Millisecond
	downstream := startNode(t, cfg)

	require.Eventually(t, func() bool { return upstream.stats.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, downstream.relay.Connected, 5*time.Second, 10*time.Millisecond)

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+downstream.ws.Addr()+config.DefaultWebSocketPath, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer ws.Close()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(event.SubscribeToBlocksToken)))
	require.Eventually(t, func() bool { return downstream.stats.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err = http.Post("http://"+upstream.ws.Addr()+"/notify/block", "application/json",
		strings.NewReader(`{"hash":"000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f","height":0}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var b event.Block
	require.NoError(t, json.Unmarshal(data, &b))
	require.Equal(t, event.BlockEventName, b.EventName)
	require.Equal(t, "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f", b.Hash)

	statusAddr := downstream.services[2].Addresses()[0]
	resp, err = http.Get("http://" + statusAddr + status.Path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap feed.StatsSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.EqualValues(t, 1, snap.MessagesIn)
	require.EqualValues(t, 1, snap.Subscribers)
}

func TestNodeShutdownWithUnreachableRelay(t *testing.T) {
	cfg := testNodeConfig()
	cfg.Relay.Enabled = true
	cfg.Relay.URL = "ws://127.0.0.1:1/ws"
	cfg.Relay.Reconnect.MinDelay = 10 * time.Millisecond
	cfg.Relay.Reconnect.MaxDelay = 50 * time.Millisecond

	errChan := make(chan error, 4)
	n, err := newNode(cfg, zaptest.NewLogger(t), errChan)
	require.NoError(t, err)
	require.NoError(t, n.start(context.Background()))
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		n.shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown is stuck")
	}
	require.False(t, n.relay.Connected())
}
