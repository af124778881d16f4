// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package services adapts the long-running components of the sync server to
suture.Service so the supervisor tree can restart them.

Each wrapper depends on a one-method interface rather than the concrete
type, which keeps this package free of imports on the components it runs
and lets tests substitute doubles:

	StoreService         RunnableStore  (*convex.Client)
	SubscriptionService  Runner         (*subscription.Manager)
	HubService           ContextHub     (*websocket.Hub)
	HTTPServerService    HTTPServer     (*http.Server)

# Restart Policy

Every wrapper returns ctx.Err() on a requested shutdown. StoreService returns
suture.ErrDoNotRestart when the store rejects authentication or the client
was closed, since reconnecting cannot succeed without operator action. The
subscription manager has already broadcast the failure to every subscriber
by then.

Example:

	tree.AddDataService(services.NewStoreService(storeClient))
	tree.AddMessagingService(services.NewSubscriptionService(manager))
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
*/
package services
