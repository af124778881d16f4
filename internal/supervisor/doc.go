// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package supervisor provides process supervision for the sync server using
suture v4.

# Overview

Services are grouped into three layers so a failure in one restarts only
its own subtree:

	RootSupervisor ("syncbridge")
	├── DataSupervisor ("data-layer")
	│   └── StoreService
	├── MessagingSupervisor ("messaging-layer")
	│   ├── SubscriptionService
	│   └── HubService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

The store client reconnects on its own, so the data layer only restarts it
after an unexpected error. Authentication failure is terminal: the service
returns suture.ErrDoNotRestart and the rest of the tree keeps serving the
broadcast error until an operator intervenes.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewStoreService(storeClient))
	tree.AddMessagingService(services.NewSubscriptionService(manager))
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	errCh := tree.ServeBackground(ctx)

# Failure Handling

suture keeps a failure counter per supervisor that decays over
FailureDecay seconds. Past FailureThreshold, restarts wait FailureBackoff.
Supervisor events are logged through sutureslog to the zerolog-backed
slog.Logger from the logging package.

# Debugging Shutdown Issues

Services that ignore cancellation for longer than ShutdownTimeout show up
in UnstoppedServiceReport, which main logs on exit.
*/
package supervisor
