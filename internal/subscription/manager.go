// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/convex"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/metrics"
	"github.com/tomtom215/syncbridge/internal/protocol"
)

// Store is the upstream side of the manager. *convex.Client implements it.
type Store interface {
	Subscribe(name string, args codec.Value) (convex.QueryID, error)
	Unsubscribe(id convex.QueryID) error
	Events() <-chan convex.Event
}

// Handle identifies one sink attached to one fingerprint.
type Handle struct {
	fp   codec.Fingerprint
	sink *Sink
}

// Fingerprint returns the fingerprint the handle is attached to.
func (h Handle) Fingerprint() codec.Fingerprint { return h.fp }

// Valid reports whether h came from a successful Attach.
func (h Handle) Valid() bool { return h.sink != nil }

// Stats is a point-in-time view of the manager.
type Stats struct {
	Fingerprints int    `json:"fingerprints"`
	Sinks        int    `json:"sinks"`
	Attachments  int    `json:"attachments"`
	Subscribes   uint64 `json:"upstream_subscribes"`
	Unsubscribes uint64 `json:"upstream_unsubscribes"`
	StoreError   string `json:"store_error,omitempty"`

	refcounts map[codec.Fingerprint]int
}

// Refcount returns the number of sinks attached to fp, zero if none.
func (s Stats) Refcount(fp codec.Fingerprint) int {
	return s.refcounts[fp]
}

type attachment struct {
	// delivered is set once the sink has received a value payload.
	delivered bool
}

type upstream struct {
	query     protocol.Query
	id        convex.QueryID
	sinks     map[*Sink]*attachment
	latest    codec.Value
	hasLatest bool
	failure   string
	lastTS    uint64
	// resync is set while the store replays the query set after a reconnect.
	resync bool
	// storeFailed is set once sinks were told the store failed. The next
	// payload is delivered even when it matches latest.
	storeFailed bool
}

type attachRequest struct {
	query protocol.Query
	sink  *Sink
	reply chan attachResult
}

type attachResult struct {
	handle Handle
	err    error
}

type detachRequest struct {
	handle Handle
	// all detaches handle.sink from every fingerprint.
	all  bool
	done chan struct{}
}

// Manager deduplicates subscriptions across sinks. Create it with
// NewManager and drive it with Run.
type Manager struct {
	store Store

	attachCh chan attachRequest
	detachCh chan detachRequest
	statsCh  chan chan Stats

	lifecycle sync.Mutex
	stopped   chan struct{}

	// Owned by the Run goroutine.
	entries      map[codec.Fingerprint]*upstream
	byID         map[convex.QueryID]codec.Fingerprint
	sinks        map[*Sink]map[codec.Fingerprint]struct{}
	storeErr     string
	subscribes   uint64
	unsubscribes uint64
}

// NewManager creates a manager over store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		attachCh: make(chan attachRequest),
		detachCh: make(chan detachRequest),
		statsCh:  make(chan chan Stats),
		entries:  make(map[codec.Fingerprint]*upstream),
		byID:     make(map[convex.QueryID]codec.Fingerprint),
		sinks:    make(map[*Sink]map[codec.Fingerprint]struct{}),
	}
}

// Attach registers sink for q. The first sink for a fingerprint creates the
// upstream subscription; later sinks receive the cached snapshot right away.
// Attaching the same sink twice is a no-op that returns the same handle.
func (m *Manager) Attach(ctx context.Context, q protocol.Query, sink *Sink) (Handle, error) {
	if sink == nil {
		return Handle{}, errors.New("attach: nil sink")
	}
	if err := q.Validate(); err != nil {
		return Handle{}, fmt.Errorf("attach: %w", err)
	}

	req := attachRequest{query: q, sink: sink, reply: make(chan attachResult, 1)}
	select {
	case m.attachCh <- req:
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	case <-m.stoppedChan():
		return Handle{}, ErrManagerStopped
	}
	res := <-req.reply
	return res.handle, res.err
}

// Detach removes one attachment. The last detach for a fingerprint removes
// the upstream subscription. Unknown handles are ignored.
func (m *Manager) Detach(ctx context.Context, h Handle) error {
	if !h.Valid() {
		return nil
	}
	return m.sendDetach(ctx, detachRequest{handle: h, done: make(chan struct{})})
}

// DetachAll removes sink from every fingerprint it is attached to.
func (m *Manager) DetachAll(ctx context.Context, sink *Sink) error {
	if sink == nil {
		return nil
	}
	return m.sendDetach(ctx, detachRequest{handle: Handle{sink: sink}, all: true, done: make(chan struct{})})
}

func (m *Manager) sendDetach(ctx context.Context, req detachRequest) error {
	select {
	case m.detachCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stoppedChan():
		return ErrManagerStopped
	}
	<-req.done
	return nil
}

// Stats returns a snapshot of the manager's bookkeeping.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case m.statsCh <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-m.stoppedChan():
		return Stats{}, ErrManagerStopped
	}
	return <-reply, nil
}

func (m *Manager) stoppedChan() <-chan struct{} {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.stopped
}

// Run owns the subscription table until ctx is cancelled. On exit every
// sink is closed with ErrManagerStopped and upstream queries are released.
func (m *Manager) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	m.lifecycle.Lock()
	m.stopped = stopped
	m.lifecycle.Unlock()
	defer close(stopped)

	logging.Info().Msg("Subscription manager started")
	events := m.store.Events()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			logging.Info().Msg("Subscription manager stopped")
			return nil

		case req := <-m.attachCh:
			h, err := m.attach(req.query, req.sink)
			req.reply <- attachResult{handle: h, err: err}

		case req := <-m.detachCh:
			if req.all {
				m.detachSink(req.handle.sink)
			} else {
				m.detachOne(req.handle.fp, req.handle.sink)
			}
			m.updateGauges()
			close(req.done)

		case reply := <-m.statsCh:
			reply <- m.stats()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.handleEvent(ev)
		}
	}
}

func (m *Manager) attach(q protocol.Query, sink *Sink) (Handle, error) {
	if sink.closed() {
		return Handle{}, ErrSinkClosed
	}
	fp := q.Fingerprint()
	h := Handle{fp: fp, sink: sink}

	if e, ok := m.entries[fp]; ok {
		if _, held := e.sinks[sink]; held {
			return h, nil
		}
		att := &attachment{}
		e.sinks[sink] = att
		m.index(sink, fp)
		m.updateGauges()
		m.pushSnapshot(e, sink, att)
		return h, nil
	}

	id, err := m.store.Subscribe(q.Name, q.Args)
	if err != nil {
		msg := m.storeErr
		if msg == "" {
			msg = "subscribe failed"
		}
		m.sendOne(sink, Message{Query: q, Fingerprint: fp, Response: protocol.Failed(msg)})
		return Handle{}, fmt.Errorf("subscribe %s: %w", q.Name, err)
	}
	m.subscribes++
	metrics.RecordUpstreamOp("subscribe")

	e := &upstream{
		query: q,
		id:    id,
		sinks: map[*Sink]*attachment{sink: {}},
	}
	m.entries[fp] = e
	m.byID[id] = fp
	m.index(sink, fp)
	m.updateGauges()

	logging.Debug().
		Str("query", q.Name).
		Str("fingerprint", fp.Short()).
		Uint32("query_id", uint32(id)).
		Msg("Upstream subscription created")

	if m.storeErr != "" {
		e.storeFailed = true
		m.sendOne(sink, Message{Query: q, Fingerprint: fp, Response: protocol.Failed(m.storeErr)})
	}
	return h, nil
}

// pushSnapshot gives a newly attached sink whatever the entry already knows.
// A store-wide failure wins over a cached value so the sink agrees with its
// peers.
func (m *Manager) pushSnapshot(e *upstream, sink *Sink, att *attachment) {
	var resp protocol.Response
	switch {
	case m.storeErr != "":
		e.storeFailed = true
		resp = protocol.Failed(m.storeErr)
	case e.failure != "":
		resp = protocol.Failed(e.failure)
	case e.hasLatest:
		resp = classify(att, e.latest)
	default:
		return
	}
	m.sendOne(sink, Message{Query: e.query, Fingerprint: e.query.Fingerprint(), Response: resp})
}

// classify labels a value payload for one sink and marks it delivered.
func classify(att *attachment, v codec.Value) protocol.Response {
	first := !att.delivered
	att.delivered = true
	switch {
	case v.IsNull():
		return protocol.Deleted()
	case first:
		return protocol.Added(v)
	default:
		return protocol.Update(v)
	}
}

func (m *Manager) index(sink *Sink, fp codec.Fingerprint) {
	set, ok := m.sinks[sink]
	if !ok {
		set = make(map[codec.Fingerprint]struct{})
		m.sinks[sink] = set
	}
	set[fp] = struct{}{}
}

func (m *Manager) detachOne(fp codec.Fingerprint, sink *Sink) {
	if set, ok := m.sinks[sink]; ok {
		delete(set, fp)
		if len(set) == 0 {
			delete(m.sinks, sink)
		}
	}

	e, ok := m.entries[fp]
	if !ok {
		return
	}
	if _, held := e.sinks[sink]; !held {
		return
	}
	delete(e.sinks, sink)
	if len(e.sinks) > 0 {
		return
	}

	delete(m.entries, fp)
	delete(m.byID, e.id)
	m.unsubscribes++
	metrics.RecordUpstreamOp("unsubscribe")
	if err := m.store.Unsubscribe(e.id); err != nil {
		logging.Debug().Err(err).Str("query", e.query.Name).Msg("Upstream unsubscribe failed")
	}
	logging.Debug().
		Str("query", e.query.Name).
		Str("fingerprint", fp.Short()).
		Msg("Upstream subscription released")
}

func (m *Manager) detachSink(sink *Sink) {
	for fp := range m.sinks[sink] {
		m.detachOne(fp, sink)
	}
	delete(m.sinks, sink)
}

// sendOne delivers to a single sink, evicting it when full.
func (m *Manager) sendOne(sink *Sink, msg Message) {
	if sink.offer(msg) {
		metrics.RecordDelivery(msg.Response.Kind.String())
		return
	}
	m.evict(sink, ErrBackpressure)
}

// fanOut delivers to every sink of e. Full sinks are evicted after the loop
// so the others still receive the payload.
func (m *Manager) fanOut(e *upstream, ts uint64, build func(*attachment) protocol.Response) {
	fp := e.query.Fingerprint()
	var evicted []*Sink
	for sink, att := range e.sinks {
		msg := Message{Query: e.query, Fingerprint: fp, Response: build(att), Timestamp: ts}
		if sink.offer(msg) {
			metrics.RecordDelivery(msg.Response.Kind.String())
			continue
		}
		evicted = append(evicted, sink)
	}
	for _, sink := range evicted {
		m.evict(sink, ErrBackpressure)
	}
}

func (m *Manager) evict(sink *Sink, reason error) {
	m.detachSink(sink)
	sink.close(reason)
	m.updateGauges()
	metrics.SubscriptionEvictions.Inc()
	logging.Warn().Err(reason).Int("queued", sink.Len()).Msg("Evicted subscription sink")
}

func (m *Manager) handleEvent(ev convex.Event) {
	switch ev.Kind {
	case convex.EventUpdated:
		m.onUpdated(ev)

	case convex.EventFailed:
		e := m.lookup(ev)
		if e == nil {
			return
		}
		e.failure = ev.ErrorMessage
		e.lastTS = ev.Timestamp
		e.resync, e.storeFailed = false, false
		m.fanOut(e, ev.Timestamp, func(*attachment) protocol.Response {
			return protocol.Failed(ev.ErrorMessage)
		})

	case convex.EventRemoved:
		e := m.lookup(ev)
		if e == nil {
			return
		}
		e.latest, e.hasLatest, e.failure = codec.Null(), true, ""
		e.lastTS = ev.Timestamp
		e.resync, e.storeFailed = false, false
		m.fanOut(e, ev.Timestamp, func(att *attachment) protocol.Response {
			att.delivered = true
			return protocol.Deleted()
		})

	case convex.EventReconnecting:
		for _, e := range m.entries {
			e.resync = true
		}

	case convex.EventReady:
		if m.storeErr == protocol.ErrMsgUnavailable {
			m.storeErr = ""
			logging.Info().Msg("Store available again")
		}

	case convex.EventAuthFailed:
		m.broadcastStoreError(protocol.ErrMsgAuth)

	case convex.EventUnavailable:
		m.broadcastStoreError(protocol.ErrMsgUnavailable)
	}
}

// lookup resolves the entry for a per-query event, dropping unknown ids and
// stale timestamps.
func (m *Manager) lookup(ev convex.Event) *upstream {
	fp, ok := m.byID[ev.QueryID]
	if !ok {
		metrics.RecordDrop("unknown")
		logging.Debug().Uint32("query_id", uint32(ev.QueryID)).Msg("Dropping payload for unknown subscription")
		return nil
	}
	e := m.entries[fp]
	if ev.Timestamp < e.lastTS {
		metrics.RecordDrop("stale")
		logging.Debug().
			Str("query", e.query.Name).
			Uint64("ts", ev.Timestamp).
			Uint64("last_ts", e.lastTS).
			Msg("Dropping stale payload")
		return nil
	}
	return e
}

func (m *Manager) onUpdated(ev convex.Event) {
	e := m.lookup(ev)
	if e == nil {
		return
	}

	if e.resync {
		e.resync = false
		if e.hasLatest && e.failure == "" && !e.storeFailed && codec.Identical(e.latest, ev.Value) {
			e.lastTS = ev.Timestamp
			metrics.RecordDrop("duplicate")
			return
		}
	}

	e.latest, e.hasLatest, e.failure = ev.Value, true, ""
	e.lastTS = ev.Timestamp
	e.storeFailed = false
	m.fanOut(e, ev.Timestamp, func(att *attachment) protocol.Response {
		return classify(att, ev.Value)
	})
}

func (m *Manager) broadcastStoreError(msg string) {
	m.storeErr = msg
	logging.Error().Str("error", msg).Int("fingerprints", len(m.entries)).Msg("Store failure propagated to subscribers")
	for _, e := range m.entries {
		e.storeFailed = true
		m.fanOut(e, 0, func(*attachment) protocol.Response {
			return protocol.Failed(msg)
		})
	}
}

func (m *Manager) shutdown() {
	for sink := range m.sinks {
		m.detachSink(sink)
		sink.close(ErrManagerStopped)
	}
	m.updateGauges()
}

func (m *Manager) stats() Stats {
	s := Stats{
		Fingerprints: len(m.entries),
		Sinks:        len(m.sinks),
		Subscribes:   m.subscribes,
		Unsubscribes: m.unsubscribes,
		StoreError:   m.storeErr,
		refcounts:    make(map[codec.Fingerprint]int, len(m.entries)),
	}
	for fp, e := range m.entries {
		s.Attachments += len(e.sinks)
		s.refcounts[fp] = len(e.sinks)
	}
	return s
}

func (m *Manager) updateGauges() {
	metrics.SubscriptionsActive.Set(float64(len(m.entries)))
	metrics.SubscriptionSinks.Set(float64(len(m.sinks)))
}
