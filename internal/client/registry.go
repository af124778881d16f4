// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/protocol"
	"github.com/tomtom215/syncbridge/internal/validation"
)

const (
	defaultBackoffMin    = 250 * time.Millisecond
	defaultBackoffMax    = 10 * time.Second
	defaultBackoffJitter = 0.2
	defaultUpdateBuffer  = 16
	defaultReadTimeout   = 90 * time.Second

	writeWait = 10 * time.Second
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("registry closed")

// ConnState is the registry's connection state.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures a Registry. Zero values take the defaults.
type Config struct {
	URL string `validate:"required,wsurl"`

	// Header is sent with every dial, e.g. an Origin the server accepts.
	Header http.Header

	BackoffMin    time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64

	// UpdateBuffer is the capacity of each Subscription.Updates channel.
	UpdateBuffer int

	// ReadTimeout bounds silence from the server. Server pings reset it.
	ReadTimeout time.Duration

	Dialer *websocket.Dialer
}

type entry struct {
	query protocol.Query
	subs  map[*Subscription]struct{}

	latest    protocol.Response
	hasLatest bool
	// stale marks that the connection was re-established since the last
	// payload, so the next one is a fresh snapshot.
	stale bool
}

// Registry multiplexes query subscriptions over one server connection.
type Registry struct {
	cfg Config

	mu        sync.Mutex
	entries   map[codec.Fingerprint]*entry
	conn      *websocket.Conn
	state     ConnState
	listeners []func(ConnState)
	closed    bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegistry validates cfg and returns a registry in StateConnecting.
// Call Run to connect.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := validation.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.BackoffJitter < 0 || cfg.BackoffJitter >= 1 {
		cfg.BackoffJitter = defaultBackoffJitter
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = defaultUpdateBuffer
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	return &Registry{
		cfg:     cfg,
		entries: make(map[codec.Fingerprint]*entry),
		state:   StateConnecting,
		stopCh:  make(chan struct{}),
	}, nil
}

// OnStateChange registers fn to be called on every state transition.
// Callbacks run on the connection goroutine and must not block.
func (r *Registry) OnStateChange(fn func(ConnState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// State returns the current connection state.
func (r *Registry) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Registry) setState(s ConnState) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	listeners := append([]func(ConnState){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// Subscribe returns a new Subscription for q. The Subscribe frame is sent
// only for the first subscriber of a fingerprint; when the query already has
// a payload it is delivered to the new subscriber before Subscribe returns.
func (r *Registry) Subscribe(q protocol.Query) (*Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	fp := q.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(r, q, r.cfg.UpdateBuffer)
	e, ok := r.entries[fp]
	if !ok {
		e = &entry{query: q, subs: make(map[*Subscription]struct{})}
		r.entries[fp] = e
		r.sendLocked(protocol.ClientFrame{Op: protocol.OpSubscribe, Query: q})
	}
	e.subs[sub] = struct{}{}
	if e.hasLatest {
		sub.deliver(e.latest)
	}
	return sub, nil
}

func (r *Registry) cancel(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub.close()
	e, ok := r.entries[sub.fp]
	if !ok {
		return
	}
	if _, held := e.subs[sub]; !held {
		return
	}
	delete(e.subs, sub)
	if len(e.subs) > 0 {
		return
	}
	delete(r.entries, sub.fp)
	if !r.closed {
		r.sendLocked(protocol.ClientFrame{Op: protocol.OpUnsubscribe, Query: e.query})
	}
}

// Len returns the number of distinct live queries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// sendLocked writes a frame if connected. While disconnected the frame is
// dropped; the next connection replays the whole set.
func (r *Registry) sendLocked(frame protocol.ClientFrame) {
	if r.conn == nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode client frame")
		return
	}
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Warn().Err(err).Str("op", frame.Op.String()).Msg("failed to send frame, dropping connection")
		_ = r.conn.Close()
		r.conn = nil
	}
}

// Close ends every subscription and stops Run.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for fp, e := range r.entries {
		for sub := range e.subs {
			sub.close()
		}
		delete(r.entries, fp)
	}
	if r.conn != nil {
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stopCh) })
	r.setState(StateClosed)
	return nil
}

// Run keeps the connection up until ctx is cancelled or Close is called.
func (r *Registry) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.BackoffMin
	bo.MaxInterval = r.cfg.BackoffMax
	bo.RandomizationFactor = r.cfg.BackoffJitter
	bo.MaxElapsedTime = 0
	bo.Reset()

	everConnected := false
	for {
		if ctx.Err() != nil {
			return r.Close()
		}

		conn, resp, err := r.cfg.Dialer.DialContext(ctx, r.cfg.URL, r.cfg.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			everConnected = true
			bo.Reset()
			err = r.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return r.Close()
		}

		if everConnected {
			r.setState(StateReconnecting)
		}
		delay := bo.NextBackOff()
		logging.Warn().Err(err).Dur("retry_in", delay).Str("url", r.cfg.URL).Msg("Sync server connection lost")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return r.Close()
		}
	}
}

// serve installs conn, replays the live query set and reads until the
// connection fails.
func (r *Registry) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	r.conn = conn
	r.replayLocked()
	r.mu.Unlock()
	r.setState(StateConnected)

	defer func() {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))

		frame, err := protocol.DecodeServerFrame(data)
		if err != nil {
			logging.Warn().Err(err).Msg("Ignoring malformed server frame")
			continue
		}
		r.dispatch(frame)
	}
}

// replayLocked marks every query stale and re-sends its Subscribe frame in
// name order.
func (r *Registry) replayLocked() {
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		e.stale = true
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].query.Name != entries[j].query.Name {
			return entries[i].query.Name < entries[j].query.Name
		}
		return entries[i].query.Args.String() < entries[j].query.Args.String()
	})
	for _, e := range entries {
		r.sendLocked(protocol.ClientFrame{Op: protocol.OpSubscribe, Query: e.query})
	}
}

func (r *Registry) dispatch(frame protocol.ServerFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[frame.Query.Fingerprint()]
	if !ok {
		logging.Debug().Str("query", frame.Query.Name).Msg("Dropping payload for inactive query")
		return
	}

	resp := frame.Response
	if resp.Kind != protocol.KindError {
		if e.stale && resp.Kind == protocol.KindUpdate {
			resp.Kind = protocol.KindAdded
		}
		e.stale = false
	}
	e.latest, e.hasLatest = resp, true
	for sub := range e.subs {
		sub.deliver(resp)
	}
}
