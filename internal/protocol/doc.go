// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package protocol defines the frames exchanged between browser clients and
the sync server.

Client to server, one JSON object per text frame:

	{"Subscribe":{"name":"messages:list","args":{"channel":"general"}}}
	{"Unsubscribe":{"name":"messages:list","args":{"channel":"general"}}}

Server to client:

	{"query":{"name":"messages:list","args":{...}},"res":{"Added":[...]}}
	{"query":{"name":"messages:list","args":{...}},"res":{"Update":[...]}}
	{"query":{"name":"messages:list","args":{...}},"res":{"Deleted":null}}
	{"query":{"name":"messages:list","args":{...}},"err":"store unavailable"}

Args and payloads use the tagged value encoding from package codec, so
64-bit integers and non-finite floats survive the trip. A subscription is
identified by the fingerprint of its name and canonical args; two queries
with the same fingerprint share one upstream subscription.
*/
package protocol
