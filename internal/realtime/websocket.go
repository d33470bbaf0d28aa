// internal/realtime/websocket.go
package realtime

import (
	"context"
	"log/slog"
)

// JSONConn is the part of a websocket connection the pump needs
// (*websocket.Conn satisfies it).
type JSONConn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

type inbound struct {
	Type string `json:"type"`
}

// Serve writes the subscription's events to conn until the client goes away
// or the subscription closes. Client frames are only read for liveness; a
// {"type":"ping"} frame is answered with a pong.
func Serve(ctx context.Context, conn JSONConn, sub *Subscription, log *slog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer sub.Close()

	pings := make(chan struct{}, 1)
	go func() {
		defer cancel()
		for {
			var in inbound
			if err := conn.ReadJSON(&in); err != nil {
				log.Debug("ws read ended", "user_id", sub.UserID, "err", err)
				return
			}
			if in.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pings:
			if err := conn.WriteJSON(Event{Type: EventPong}); err != nil {
				log.Debug("ws write failed", "user_id", sub.UserID, "err", err)
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("ws write failed", "user_id", sub.UserID, "err", err)
				return
			}
		}
	}
}
