// Package transport wraps an authenticated STOMP-over-websocket
// connection to the game server. It is intentionally thin: it knows
// nothing about the game, only how to subscribe and publish.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
	"github.com/sirupsen/logrus"
)

// Session is the publish/subscribe surface the agents talk through.
// Publish is fire-and-forget: acknowledgments, if any, arrive later as
// ordinary inbound messages. Handlers run in per-subscription FIFO
// order; no ordering holds across subscriptions.
type Session interface {
	Subscribe(ctx context.Context, destination string, handler func(body []byte)) error
	Publish(destination string, body []byte) error
	Close() error
}

// StompSession is a Session bound to a single authenticated websocket.
type StompSession struct {
	token string
	ws    *websocket.Conn
	conn  *stomp.Conn
	log   *logrus.Entry
}

// Connect dials the websocket endpoint and performs the STOMP
// handshake. The bearer credential is sent both on the websocket
// upgrade request and in the STOMP CONNECT frame; a plain `token`
// header is included as a fallback for older server builds.
func Connect(ctx context.Context, wsURL, token string, log *logrus.Entry) (*StompSession, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", wsURL, err)
	}
	ws.SetReadLimit(1 << 20)

	netConn := websocket.NetConn(context.Background(), ws, websocket.MessageText)
	conn, err := stomp.Connect(netConn,
		stomp.ConnOpt.Header("Authorization", "Bearer "+token),
		stomp.ConnOpt.Header("token", token),
		stomp.ConnOpt.HeartBeat(10*time.Second, 10*time.Second),
	)
	if err != nil {
		ws.Close(websocket.StatusProtocolError, "stomp connect failed")
		return nil, fmt.Errorf("transport: stomp connect: %w", err)
	}

	log.Info("connected to websocket server")
	return &StompSession{token: token, ws: ws, conn: conn, log: log}, nil
}

// Subscribe registers a handler for a destination. Messages are
// delivered one at a time from a dedicated goroutine, preserving
// delivery order within the subscription.
func (s *StompSession) Subscribe(ctx context.Context, destination string, handler func(body []byte)) error {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return fmt.Errorf("transport: subscribe %s: %w", destination, err)
	}

	go func() {
		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if msg.Err != nil {
					s.log.WithError(msg.Err).WithField("destination", destination).
						Warn("subscription error frame")
					continue
				}
				handler(msg.Body)
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			}
		}
	}()
	return nil
}

// Publish sends a frame to an application destination. Every outbound
// command carries the bearer credential.
func (s *StompSession) Publish(destination string, body []byte) error {
	if body == nil {
		body = []byte("{}")
	}
	err := s.conn.Send(destination, "application/json", body,
		stomp.SendOpt.Header("Authorization", "Bearer "+s.token))
	if err != nil {
		return fmt.Errorf("transport: publish %s: %w", destination, err)
	}
	return nil
}

// Close tears down the STOMP session and the underlying websocket.
func (s *StompSession) Close() error {
	err := s.conn.Disconnect()
	_ = s.ws.Close(websocket.StatusNormalClosure, "client shutdown")
	return err
}
