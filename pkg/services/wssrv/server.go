/*
Package wssrv implements the subscriber-facing HTTP server. It upgrades
requests to the configured path to websocket subscription sessions and
optionally accepts events from the co-located node notifier.
*/
package wssrv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/nspcc-dev/blockfeed/pkg/event"
	"github.com/nspcc-dev/blockfeed/pkg/feed"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server is the websocket endpoint.
type Server struct {
	http     []*http.Server
	config   config.WebSocket
	engine   *feed.Engine
	log      *zap.Logger
	upgrader websocket.Upgrader
	errChan  chan error

	started  atomic.Bool
	shutdown chan struct{}
	clients  atomic.Int32
}

const (
	// Ingestion endpoints.
	blockIngestPath = "/notify/block"
	txIngestPath    = "/notify/tx"
	// maxIngestBody is the request body size limit for ingestion endpoints.
	maxIngestBody = 1 << 20

	// Maximum duration between two pongs from the client, after that
	// the connection is considered dead.
	wsPongLimit = 60 * time.Second

	// Ping period, must be less than wsPongLimit.
	wsPingPeriod = wsPongLimit / 2

	// Write deadline for every frame.
	wsWriteLimit = wsPingPeriod / 2
)

// New creates a websocket server for the given engine. Serving errors are
// reported via errChan.
func New(cfg config.WebSocket, engine *feed.Engine, log *zap.Logger, errChan chan error) *Server {
	var originChecker func(*http.Request) bool
	if cfg.EnableCORSWorkaround {
		originChecker = func(_ *http.Request) bool { return true }
	}
	s := &Server{
		config:   cfg,
		engine:   engine,
		log:      log.With(zap.String("service", "websocket")),
		upgrader: websocket.Upgrader{CheckOrigin: originChecker},
		errChan:  errChan,
		shutdown: make(chan struct{}),
	}
	for _, addr := range cfg.GetAddresses() {
		s.http = append(s.http, &http.Server{
			Addr:              addr,
			Handler:           http.HandlerFunc(s.handleHTTPRequest),
			ReadHeaderTimeout: wsWriteLimit,
		})
	}
	return s
}

// Name returns service name.
func (s *Server) Name() string {
	return "websocket"
}

// Start makes the server listen on all configured addresses. Listening and
// serving errors are sent to errChan. The Server only starts once,
// subsequent calls to Start are no-op.
func (s *Server) Start() {
	if !s.config.Enabled {
		s.log.Info("websocket server is not enabled")
		return
	}
	if !s.started.CAS(false, true) {
		s.log.Info("websocket server already started")
		return
	}
	for _, srv := range s.http {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			s.errChan <- err
			return
		}
		srv.Addr = ln.Addr().String() // set Addr to the actual address
		s.log.Info("starting websocket server", zap.String("endpoint", srv.Addr))
		go func(srv *http.Server, ln net.Listener) {
			err := srv.Serve(ln)
			if !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("failed to serve websocket endpoint", zap.String("endpoint", srv.Addr), zap.Error(err))
				s.errChan <- err
			}
		}(srv, ln)
	}
}

// Shutdown stops accepting new connections and keepalive routines of the
// existing ones. Sessions themselves are finished by engine shutdown. It
// can only be called once, subsequent calls are no-op.
func (s *Server) Shutdown() {
	if !s.started.CAS(true, false) {
		return
	}
	close(s.shutdown)
	for _, srv := range s.http {
		s.log.Info("shutting down websocket server", zap.String("endpoint", srv.Addr))
		if err := srv.Shutdown(context.Background()); err != nil {
			s.log.Warn("error during websocket server shutdown", zap.Error(err))
		}
	}
}

// Addr returns the address of the first listener, it's the actual one
// after Start.
func (s *Server) Addr() string {
	if len(s.http) == 0 {
		return ""
	}
	return s.http[0].Addr
}

func (s *Server) handleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions && s.config.EnableCORSWorkaround { // Preflight CORS.
		setCORSOriginHeaders(w.Header())
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST") // GET for websockets.
		w.Header().Set("Access-Control-Max-Age", "21600")           // 6 hours.
		return
	}
	switch {
	case r.URL.Path == s.config.Path && r.Method == http.MethodGet:
		s.handleWS(w, r)
	case r.URL.Path == blockIngestPath && s.config.IngestEnabled:
		s.handleIngest(w, r, func(dec *json.Decoder) error {
			var b event.Block
			if err := dec.Decode(&b); err != nil {
				return errBadRequest{err}
			}
			return s.engine.PublishBlock(&b)
		})
	case r.URL.Path == txIngestPath && s.config.IngestEnabled:
		s.handleIngest(w, r, func(dec *json.Decoder) error {
			var tx event.Transaction
			if err := dec.Decode(&tx); err != nil {
				return errBadRequest{err}
			}
			return s.engine.PublishTransaction(&tx)
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// Technically there is a race between this check and the increment
	// below, some additional clients may sneak in, no big deal.
	if int(s.clients.Load()) >= s.config.MaxClients {
		http.Error(w, "websocket users limit reached", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket connection upgrade failed", zap.Error(err))
		return
	}
	s.clients.Inc()
	defer s.clients.Dec()

	ws.SetReadLimit(s.config.ReadLimit)
	if err = ws.SetReadDeadline(time.Now().Add(wsPongLimit)); err != nil {
		_ = ws.Close()
		return
	}
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(wsPongLimit)) })

	stop := make(chan struct{})
	go s.keepAlive(ws, stop)
	s.engine.Serve(feed.NewWSConn(ws, wsWriteLimit), s.newLimiter())
	close(stop)
}

// keepAlive pings the client until stop or server shutdown. Control frames
// can be written concurrently with the broadcast worker.
func (s *Server) keepAlive(ws *websocket.Conn, stop <-chan struct{}) {
	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.shutdown:
			return
		case <-pingTicker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteLimit)); err != nil {
				s.log.Debug("failed to ping websocket client", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.config.MaxFrameRate == 0 {
		return nil
	}
	burst := int(s.config.MaxFrameRate)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.config.MaxFrameRate), burst)
}

type errBadRequest struct {
	err error
}

func (e errBadRequest) Error() string {
	return "bad request: " + e.err.Error()
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, publish func(*json.Decoder) error) {
	if s.config.EnableCORSWorkaround {
		setCORSOriginHeaders(w.Header())
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := publish(json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)))
	var bad errBadRequest
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.As(err, &bad):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, feed.ErrShuttingDown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.log.Error("failed to publish event", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func setCORSOriginHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Access-Control-Allow-Headers, Authorization, X-Requested-With")
}
