// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package client is the Go side of the browser protocol: a Registry holds one
WebSocket connection to a sync server and multiplexes any number of query
subscriptions over it.

Subscribing to a query that is already live shares it: the server sees one
Subscribe frame when the first subscriber arrives and one Unsubscribe when
the last one cancels. A new subscriber to a live query receives the cached
latest payload immediately, labelled Added.

If the connection drops, the registry redials with exponential backoff,
re-sends Subscribe for every live query and relabels the next payload of
each query as Added, since it is a fresh snapshot.

Example:

	reg, err := client.NewRegistry(client.Config{URL: "ws://localhost:3210/ws"})
	if err != nil {
	    return err
	}
	go reg.Run(ctx)

	q, _ := protocol.NewQuery("messages:list", map[string]any{"channel": "general"})
	sub, err := reg.Subscribe(q)
	if err != nil {
	    return err
	}
	defer sub.Cancel()

	for resp := range sub.Updates() {
	    fmt.Println(resp.Kind, resp.Value)
	}
*/
package client
