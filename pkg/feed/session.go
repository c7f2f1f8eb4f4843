package feed

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/blockfeed/pkg/encoding/address"
	"github.com/nspcc-dev/blockfeed/pkg/event"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Serve runs a subscription session for conn and returns once the session
// is over: on close/abort control frames, transport close or transport
// error. The connection is unregistered and closed before returning.
// Subscription frames exceeding the limiter (if it's not nil) are dropped,
// control frames are always handled. Sessions started after Shutdown are
// closed immediately.
func (e *Engine) Serve(conn Conn, limiter *rate.Limiter) {
	sub := NewSubscriber(conn)
	log := e.log.With(zap.Stringer("subscriber", sub.ID()))

	if err := e.addSession(sub); err != nil {
		log.Debug("session rejected", zap.Error(err))
		e.registry.Unregister(sub)
		return
	}
	log.Debug("session started")
	e.listen(sub, limiter, log)
	e.registry.Unregister(sub)
	e.removeSession(sub)
	log.Debug("session closed")
}

func (e *Engine) listen(sub *Subscriber, limiter *rate.Limiter, log *zap.Logger) {
	for {
		mt, data, err := sub.conn.ReadMessage()
		if err != nil {
			if !isClosedConnError(err) {
				log.Debug("session read failed", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		frame := string(data)
		if frame == event.CloseToken || frame == event.AbortToken {
			log.Debug("session close requested", zap.String("frame", frame))
			return
		}
		if limiter != nil && !limiter.Allow() {
			continue
		}

		var ch string
		switch frame {
		case event.SubscribeToBlocksToken:
			ch = event.BlocksChannel
		case event.SubscribeToTxsToken:
			ch = event.TxsChannel
		default:
			if !address.IsValid(frame) {
				continue
			}
			ch = frame
		}
		err = e.registry.Register(sub, ch)
		if err != nil {
			log.Debug("subscription rejected", zap.String("channel", ch), zap.Error(err))
			return
		}
		log.Debug("subscribed", zap.String("channel", ch))
	}
}

func isClosedConnError(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed)
}
