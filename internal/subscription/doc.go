// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package subscription fans one upstream store subscription out to every
browser session that asked for the same query.

The Manager keeps, per query fingerprint, a refcount, the latest snapshot,
the store-issued query id, the last delivered timestamp and the set of
attached sinks. All of it is owned by the goroutine running Manager.Run;
sessions reach it through request channels, so refcount transitions and
snapshot publication are never interleaved.

# Delivery

Each Sink is a bounded channel. The first payload a sink receives after
attaching is labelled Added, later ones Update, and null payloads Deleted.
A late joiner gets the cached snapshot immediately without any store
traffic. Payloads older than the last one delivered for the fingerprint are
dropped, as is the first payload after a store reconnect when it matches the
snapshot already delivered.

A sink that is full when a payload arrives is evicted: it is detached from
every fingerprint and its Done channel closes with ErrBackpressure. The
upstream and the other sinks are not affected.

# Store failures

Query failures reach the sinks of that query as error responses and the
subscription stays in place. When the store rejects authentication every
sink receives the error "auth"; when it stays unreachable past its downtime
bound every sink receives "store unavailable" and the store keeps retrying.
*/
package subscription
