// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/metrics"
	"github.com/tomtom215/syncbridge/internal/protocol"
	"github.com/tomtom215/syncbridge/internal/subscription"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
	detachTimeout  = 5 * time.Second

	defaultFrameRate  = 50
	defaultFrameBurst = 100
)

// Close reasons recorded in metrics.
const (
	closeReasonClient        = "client_closed"
	closeReasonProtocolError = "protocol_error"
	closeReasonRateLimited   = "rate_limited"
	closeReasonSlowConsumer  = "slow_consumer"
	closeReasonShutdown      = "shutdown"
	closeReasonWriteError    = "write_error"
)

// sessionIDCounter hands out monotonically increasing session ids.
var sessionIDCounter atomic.Uint64

// Manager is the part of subscription.Manager a session uses.
type Manager interface {
	Attach(ctx context.Context, q protocol.Query, sink *subscription.Sink) (subscription.Handle, error)
	Detach(ctx context.Context, h subscription.Handle) error
	DetachAll(ctx context.Context, sink *subscription.Sink) error
}

// SessionConfig tunes per-session limits. Zero values take the defaults.
type SessionConfig struct {
	// SinkBuffer is the number of outbound frames queued before the
	// session is considered a slow consumer.
	SinkBuffer int
	// FrameRate is the sustained inbound frames per second.
	FrameRate float64
	// FrameBurst is the inbound burst allowance.
	FrameBurst int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.SinkBuffer <= 0 {
		c.SinkBuffer = subscription.DefaultSinkBuffer
	}
	if c.FrameRate <= 0 {
		c.FrameRate = defaultFrameRate
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = defaultFrameBurst
	}
	return c
}

// Session is one browser connection. readPump turns client frames into
// Attach/Detach calls; writePump drains the session's sink onto the socket.
type Session struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	manager Manager
	sink    *subscription.Sink
	limiter *rate.Limiter
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// handles is only touched by readPump.
	handles map[codec.Fingerprint]subscription.Handle

	quit      chan struct{}
	quitOnce  sync.Once
	closeOnce sync.Once
	reason    atomic.Value
}

// NewSession wraps an upgraded connection.
func NewSession(hub *Hub, conn *websocket.Conn, manager Manager, cfg SessionConfig) *Session {
	cfg = cfg.withDefaults()
	id := sessionIDCounter.Add(1)
	ctx, cancel := context.WithCancel(logging.ContextWithSessionID(context.Background(), id))

	s := &Session{
		id:      id,
		hub:     hub,
		conn:    conn,
		manager: manager,
		sink:    subscription.NewSink(cfg.SinkBuffer),
		limiter: rate.NewLimiter(rate.Limit(cfg.FrameRate), cfg.FrameBurst),
		log:     logging.With().Str("component", "session").Uint64("session_id", id).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[codec.Fingerprint]subscription.Handle),
		quit:    make(chan struct{}),
	}
	s.reason.Store(closeReasonClient)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// Start launches the read and write pumps.
func (s *Session) Start() {
	metrics.WSConnections.Inc()
	s.log.Debug().Str("remote", s.conn.RemoteAddr().String()).Msg("Session started")
	go s.writePump()
	go s.readPump()
}

func (s *Session) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// closeWith sends a close frame once and stops the pumps. WriteControl is
// safe to call concurrently with writePump.
func (s *Session) closeWith(code int, text, reason string) {
	s.closeOnce.Do(func() {
		s.reason.Store(reason)
		msg := websocket.FormatCloseMessage(code, text)
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			s.log.Debug().Err(err).Msg("failed to write close frame")
		}
		s.stop()
	})
}

func (s *Session) closeReason() string {
	if r, ok := s.reason.Load().(string); ok {
		return r
	}
	return closeReasonClient
}

// readPump reads client frames until the connection fails or the session
// closes it for a protocol or rate violation.
func (s *Session) readPump() {
	defer s.cleanup()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Debug().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		metrics.WSMessagesReceived.Inc()

		if !s.limiter.Allow() {
			metrics.WSErrors.WithLabelValues("rate_limited").Inc()
			s.log.Warn().Msg("Session exceeded inbound frame rate")
			s.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded", closeReasonRateLimited)
			return
		}

		if msgType != websocket.TextMessage {
			metrics.WSErrors.WithLabelValues("malformed_frame").Inc()
			s.closeWith(websocket.CloseProtocolError, "malformed frame", closeReasonProtocolError)
			return
		}

		frame, err := protocol.DecodeClientFrame(data)
		if err != nil {
			metrics.WSErrors.WithLabelValues("malformed_frame").Inc()
			s.log.Debug().Err(err).Msg("Rejecting malformed frame")
			s.closeWith(websocket.CloseProtocolError, "malformed frame", closeReasonProtocolError)
			return
		}
		s.handleFrame(frame)
	}
}

func (s *Session) handleFrame(frame protocol.ClientFrame) {
	fp := frame.Query.Fingerprint()

	switch frame.Op {
	case protocol.OpSubscribe:
		if _, held := s.handles[fp]; held {
			return
		}
		h, err := s.manager.Attach(s.ctx, frame.Query, s.sink)
		if err != nil {
			// The manager has already queued an error frame for the client.
			s.log.Debug().Err(err).Str("query", frame.Query.Name).Msg("Attach failed")
			return
		}
		s.handles[fp] = h

	case protocol.OpUnsubscribe:
		h, held := s.handles[fp]
		if !held {
			return
		}
		delete(s.handles, fp)
		if err := s.manager.Detach(s.ctx, h); err != nil {
			s.log.Debug().Err(err).Str("query", frame.Query.Name).Msg("Detach failed")
		}
	}
}

// writePump is the only writer of data frames, so frames for one
// fingerprint reach the client in the order the manager queued them.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.sink.C():
			if err := s.writeFrame(msg); err != nil {
				s.reason.Store(closeReasonWriteError)
				s.log.Debug().Err(err).Msg("failed to write frame")
				s.stop()
				return
			}

		case <-s.sink.Done():
			if errors.Is(s.sink.Err(), subscription.ErrBackpressure) {
				s.log.Warn().Msg("Closing slow consumer")
				s.closeWith(websocket.ClosePolicyViolation, "slow consumer", closeReasonSlowConsumer)
			} else {
				s.closeWith(websocket.CloseGoingAway, "server shutting down", closeReasonShutdown)
			}
			return

		case <-s.quit:
			return

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) writeFrame(msg subscription.Message) error {
	data, err := json.Marshal(protocol.ServerFrame{Query: msg.Query, Response: msg.Response})
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.WSMessagesSent.Inc()
	return nil
}

// cleanup runs once when readPump exits and releases everything the
// session holds. Other sessions are unaffected.
func (s *Session) cleanup() {
	s.stop()

	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	err := s.manager.DetachAll(ctx, s.sink)
	cancel()
	if err != nil && !errors.Is(err, subscription.ErrManagerStopped) {
		s.log.Warn().Err(err).Msg("failed to detach session subscriptions")
	}
	s.handles = nil
	s.cancel()

	s.hub.Unregister(s)
	_ = s.conn.Close()

	reason := s.closeReason()
	metrics.RecordSessionClosed(reason)
	s.log.Debug().Str("reason", reason).Msg("Session closed")
}
