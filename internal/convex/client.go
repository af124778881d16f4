// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package convex

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/metrics"
)

const (
	defaultBackoffMin        = 250 * time.Millisecond
	defaultBackoffMax        = 10 * time.Second
	defaultBackoffJitter     = 0.2
	defaultMaxDowntime       = 30 * time.Second
	defaultHeartbeatInterval = 5 * time.Second
	defaultInactivityTimeout = 30 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	defaultEventBuffer       = 256
	defaultBreakerFailures   = 5
	defaultBreakerTimeout    = 30 * time.Second

	writeWait     = 10 * time.Second
	clientHeader  = "Convex-Client"
	clientVersion = "syncbridge-1.0.0"
)

// Config configures a store Client. Zero durations take the defaults.
type Config struct {
	// URL is the deployment URL (https://...) or the sync endpoint (wss://.../api/sync).
	URL string

	// ClientID identifies this process to the store. A UUID is used as the
	// session id directly; any other string is hashed into one.
	ClientID string

	// AuthToken is an optional JWT sent with Authenticate after every Connect.
	AuthToken string

	BackoffMin    time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64

	// MaxDowntime is how long the store may be unreachable before
	// EventUnavailable is emitted. Reconnect attempts continue afterwards.
	MaxDowntime time.Duration

	HeartbeatInterval time.Duration
	InactivityTimeout time.Duration
	HandshakeTimeout  time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.BackoffJitter < 0 || cfg.BackoffJitter >= 1 {
		cfg.BackoffJitter = defaultBackoffJitter
	}
	if cfg.MaxDowntime <= 0 {
		cfg.MaxDowntime = defaultMaxDowntime
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = defaultInactivityTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaultBreakerTimeout
	}
}

// State is the connection lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateReady
	StateReconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind classifies an Event.
type EventKind int

const (
	// EventUpdated carries a new result for QueryID. A null Value means the
	// result no longer exists.
	EventUpdated EventKind = iota
	// EventFailed carries the store's error message for QueryID.
	EventFailed
	// EventRemoved means the store dropped QueryID from the query set.
	EventRemoved
	// EventReconnecting is emitted once each time a Ready connection is lost.
	EventReconnecting
	// EventReady is emitted after every successful handshake.
	EventReady
	// EventAuthFailed is emitted once before the client closes for good.
	EventAuthFailed
	// EventUnavailable is emitted once per outage longer than MaxDowntime.
	EventUnavailable
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventUpdated:
		return "updated"
	case EventFailed:
		return "failed"
	case EventRemoved:
		return "removed"
	case EventReconnecting:
		return "reconnecting"
	case EventReady:
		return "ready"
	case EventAuthFailed:
		return "auth_failed"
	case EventUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Event is one item on the Events stream. Per-query events carry the end
// timestamp of the transition they arrived in.
type Event struct {
	Kind         EventKind
	QueryID      QueryID
	Value        codec.Value
	Timestamp    uint64
	ErrorMessage string
	LogLines     []string
}

type query struct {
	udfPath string
	args    codec.Value
}

// Client is a durable connection to the store's sync endpoint.
//
// Subscribe, Unsubscribe and SetAuth may be called from any goroutine; the
// connection itself is driven by Run.
type Client struct {
	cfg       Config
	url       string
	sessionID string
	breaker   *dialBreaker
	events    chan Event
	now       func() time.Time

	state atomic.Int32
	maxTS atomic.Uint64

	// mu guards the fields below and serialises writes to conn.
	mu              sync.Mutex
	conn            *websocket.Conn
	queries         map[QueryID]*query
	nextID          QueryID
	querySetVersion uint32
	identityVersion uint32
	server          StateVersion
	token           string
	connectionCount uint32
	lastCloseReason string
	closed          bool

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewClient validates cfg and returns a client in the Connecting state.
// Nothing is dialled until Run is called.
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	if cfg.ClientID == "" {
		return nil, errors.New("store client id is required")
	}
	syncURL, err := buildSyncURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.AuthToken != "" {
		if _, err := checkToken(cfg.AuthToken, time.Now()); err != nil {
			return nil, err
		}
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		EnableCompression: true,
		Proxy:             http.ProxyFromEnvironment,
	}

	c := &Client{
		cfg:             cfg,
		url:             syncURL,
		sessionID:       sessionIDFor(cfg.ClientID),
		breaker:         newDialBreaker("store-dial", dialer, cfg.BreakerFailures, cfg.BreakerTimeout),
		events:          make(chan Event, cfg.EventBuffer),
		now:             time.Now,
		queries:         make(map[QueryID]*query),
		token:           cfg.AuthToken,
		lastCloseReason: "InitialConnect",
		stopChan:        make(chan struct{}),
	}
	c.setState(StateConnecting)
	return c, nil
}

// buildSyncURL converts a deployment URL into its sync WebSocket URL.
//
//	https://happy-otter-123.convex.cloud -> wss://happy-otter-123.convex.cloud/api/sync
func buildSyncURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("store url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse store url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("store url scheme %q not supported", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("store url %q has no host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/api/sync"
	}
	return u.String(), nil
}

func sessionIDFor(clientID string) string {
	if id, err := uuid.Parse(clientID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("syncbridge:"+clientID)).String()
}

// Events returns the stream of store events. It is never closed.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// MaxObservedTimestamp returns the highest transition timestamp seen so far.
func (c *Client) MaxObservedTimestamp() uint64 {
	return c.maxTS.Load()
}

// QueryCount returns the size of the live query set.
func (c *Client) QueryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

// BreakerState returns the dial circuit breaker state.
func (c *Client) BreakerState() string {
	return c.breaker.state()
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	metrics.StoreConnectionState.Set(float64(s))
}

// Subscribe adds a query to the query set and returns its id. When the
// connection is not Ready the query is sent with the next handshake.
func (c *Client) Subscribe(name string, args codec.Value) (QueryID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	id := c.nextID
	c.nextID++
	q := &query{udfPath: CanonicalUDFPath(name), args: args}
	c.queries[id] = q
	metrics.StoreQuerySetSize.Set(float64(len(c.queries)))

	c.modifyQuerySetLocked(addModification(id, q))
	return id, nil
}

// Unsubscribe removes a query from the query set. Unknown ids are ignored.
func (c *Client) Unsubscribe(id QueryID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, ok := c.queries[id]; !ok {
		return nil
	}
	delete(c.queries, id)
	metrics.StoreQuerySetSize.Set(float64(len(c.queries)))

	c.modifyQuerySetLocked(removeModification(id))
	return nil
}

// SetAuth replaces the auth token. An empty token logs out. A token whose
// exp claim has passed is rejected with ErrTokenExpired.
func (c *Client) SetAuth(token string) error {
	if token != "" {
		exp, err := checkToken(token, c.now())
		if err != nil {
			return err
		}
		if !exp.IsZero() {
			logging.Debug().Time("expires", exp).Msg("Store auth token updated")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.token = token
	if c.conn == nil || c.State() != StateReady {
		return nil
	}
	if err := c.writeLocked(newAuthenticate(c.identityVersion, token)); err != nil {
		c.failLocked(err)
		return nil
	}
	c.identityVersion++
	return nil
}

// modifyQuerySetLocked sends one modification when Ready. A failed write
// closes the socket so the read loop reconnects and replays the set.
func (c *Client) modifyQuerySetLocked(mod querySetModification) {
	if c.conn == nil || c.State() != StateReady {
		return
	}
	msg := modifyQuerySetMessage{
		Type:          "ModifyQuerySet",
		BaseVersion:   c.querySetVersion,
		NewVersion:    c.querySetVersion + 1,
		Modifications: []querySetModification{mod},
	}
	if err := c.writeLocked(msg); err != nil {
		c.failLocked(err)
		return
	}
	c.querySetVersion++
}

func (c *Client) writeLocked(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode store message: %w", err)
	}
	if err := c.conn.SetWriteDeadline(c.now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) failLocked(err error) {
	logging.Warn().Err(err).Msg("Store write failed, forcing reconnect")
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Close stops Run and rejects further operations.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stopChan)
	})
	return nil
}

// Run drives the connection until ctx is cancelled, Close is called or the
// store rejects authentication. Only the auth case returns an error.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := c.newBackoff()
	outageStart := c.now()
	unavailableSent := false
	connected := false

	for {
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}

		conn, err := c.breaker.dial(ctx, c.url, c.header())
		if err == nil {
			var ready bool
			ready, err = c.serve(ctx, conn)
			if errors.Is(err, ErrAuthFailed) {
				c.shutdownAfterAuthFailure(ctx, err)
				return err
			}
			if ctx.Err() != nil {
				c.setState(StateClosed)
				return nil
			}
			if ready {
				connected = true
				bo.Reset()
				outageStart = c.now()
				unavailableSent = false
				c.setState(StateReconnecting)
				c.emit(ctx, Event{Kind: EventReconnecting, ErrorMessage: err.Error()})
			}
		}

		if connected {
			c.setState(StateReconnecting)
		} else {
			c.setState(StateConnecting)
		}
		logging.Warn().Err(err).Str("breaker", c.breaker.state()).Msg("Store connection unavailable, retrying")

		if !unavailableSent && c.now().Sub(outageStart) >= c.cfg.MaxDowntime {
			unavailableSent = true
			logging.Error().Dur("downtime", c.now().Sub(outageStart)).Msg("Store unavailable past downtime bound")
			c.emit(ctx, Event{Kind: EventUnavailable, ErrorMessage: ErrUnavailable.Error()})
		}

		delay := bo.NextBackOff()
		select {
		case <-time.After(delay):
			metrics.StoreReconnects.Inc()
		case <-ctx.Done():
			c.setState(StateClosed)
			return nil
		}
	}
}

func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BackoffMin
	bo.MaxInterval = c.cfg.BackoffMax
	bo.RandomizationFactor = c.cfg.BackoffJitter
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set(clientHeader, clientVersion)
	return h
}

func (c *Client) shutdownAfterAuthFailure(ctx context.Context, err error) {
	logging.Error().Err(err).Msg("Store rejected authentication, closing store client")
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.setState(StateClosed)
	c.emit(ctx, Event{Kind: EventAuthFailed, ErrorMessage: err.Error()})
}

// serve runs one connection. ready reports whether the handshake completed.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) (ready bool, err error) {
	defer func() {
		c.mu.Lock()
		c.conn = nil
		if err != nil {
			c.lastCloseReason = err.Error()
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	if err := c.handshake(conn); err != nil {
		return false, fmt.Errorf("handshake: %w", err)
	}
	logging.Info().Str("url", c.url).Uint64("max_observed_ts", c.maxTS.Load()).Msg("Store connection ready")
	c.emit(ctx, Event{Kind: EventReady})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeat(connCtx, conn)
	go func() {
		<-connCtx.Done()
		if ctx.Err() != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		_ = conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.InactivityTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.InactivityTimeout)); err != nil {
			return true, fmt.Errorf("set read deadline: %w", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return true, errInactive
			}
			return true, fmt.Errorf("read: %w", err)
		}
		if err := c.handleMessage(ctx, data); err != nil {
			return true, err
		}
	}
}

// handshake writes Connect, Authenticate and the full query set. The
// client is Ready once all three are on the wire.
func (c *Client) handshake(conn *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(StateAuthenticating)
	c.conn = conn
	c.server = StateVersion{}
	c.querySetVersion = 0
	c.identityVersion = 0

	hello := newConnect(c.sessionID, c.connectionCount, c.lastCloseReason, c.maxTS.Load())
	c.connectionCount++
	if err := c.writeLocked(hello); err != nil {
		return err
	}

	if c.token != "" {
		if err := c.writeLocked(newAuthenticate(c.identityVersion, c.token)); err != nil {
			return err
		}
		c.identityVersion++
	}

	if len(c.queries) > 0 {
		ids := make([]QueryID, 0, len(c.queries))
		for id := range c.queries {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		mods := make([]querySetModification, 0, len(ids))
		for _, id := range ids {
			mods = append(mods, addModification(id, c.queries[id]))
		}
		msg := modifyQuerySetMessage{Type: "ModifyQuerySet", BaseVersion: 0, NewVersion: 1, Modifications: mods}
		if err := c.writeLocked(msg); err != nil {
			return err
		}
		c.querySetVersion = 1
	}

	c.setState(StateReady)
	return nil
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logging.Debug().Err(err).Msg("Store heartbeat failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, data []byte) error {
	msg, err := parseServerMessage(data)
	if err != nil {
		return err
	}
	metrics.StoreMessagesReceived.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case msgTransition:
		return c.applyTransition(ctx, msg)
	case msgAuthError:
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg.Error)
	case msgFatalError:
		return fmt.Errorf("%w: %s", errFatal, msg.Error)
	case msgPing:
		return nil
	default:
		// Mutation and action responses are never requested by this client.
		return fmt.Errorf("%w: unexpected %s message", errDesync, msg.Type)
	}
}

func (c *Client) applyTransition(ctx context.Context, msg *serverMessage) error {
	c.mu.Lock()
	if msg.StartVersion != c.server {
		have := c.server
		c.mu.Unlock()
		return fmt.Errorf("%w: transition starts at %+v, client is at %+v", errDesync, msg.StartVersion, have)
	}
	c.server = msg.EndVersion

	ts := msg.EndVersion.TS
	events := make([]Event, 0, len(msg.Modifications))
	for i := range msg.Modifications {
		mod := &msg.Modifications[i]
		if _, ok := c.queries[mod.QueryID]; !ok {
			continue
		}
		events = append(events, modificationEvent(mod, ts))
	}
	c.mu.Unlock()

	c.observe(ts)
	for _, ev := range events {
		if !c.emit(ctx, ev) {
			return ctx.Err()
		}
	}
	return nil
}

func modificationEvent(mod *stateModification, ts uint64) Event {
	ev := Event{QueryID: mod.QueryID, Timestamp: ts, LogLines: mod.LogLines}
	switch mod.Type {
	case modQueryUpdated:
		ev.Kind = EventUpdated
		if len(mod.Value) == 0 {
			return ev
		}
		v, err := codec.UnmarshalWire(mod.Value)
		if err != nil {
			ev.Kind = EventFailed
			ev.ErrorMessage = "decode error: " + err.Error()
			return ev
		}
		ev.Value = v
	case modQueryFailed:
		ev.Kind = EventFailed
		ev.ErrorMessage = mod.ErrorMessage
	case modQueryRemoved:
		ev.Kind = EventRemoved
	default:
		ev.Kind = EventFailed
		ev.ErrorMessage = "unknown modification " + mod.Type
	}
	return ev
}

func (c *Client) observe(ts uint64) {
	for {
		cur := c.maxTS.Load()
		if ts <= cur {
			return
		}
		if c.maxTS.CompareAndSwap(cur, ts) {
			metrics.RecordObservedTimestamp(ts)
			return
		}
	}
}

func (c *Client) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
