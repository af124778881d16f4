// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/syncbridge/internal/api"
	"github.com/tomtom215/syncbridge/internal/config"
	"github.com/tomtom215/syncbridge/internal/convex"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/subscription"
	"github.com/tomtom215/syncbridge/internal/supervisor"
	"github.com/tomtom215/syncbridge/internal/supervisor/services"
	"github.com/tomtom215/syncbridge/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_url", cfg.Store.URL).
		Bool("store_auth", cfg.Store.AuthToken != "").
		Str("environment", cfg.Server.Environment).
		Msg("Starting Syncbridge")

	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().
			Strs("origins", cfg.Security.CORSOrigins).
			Msg("CORS allows any origin; set CORS_ORIGINS before exposing this server")
	}

	store, err := convex.NewClient(storeConfig(cfg.Store))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create store client")
	}

	manager := subscription.NewManager(store)
	hub := websocket.NewHub()

	handler := api.NewHandler(cfg, store, manager, hub)
	router := api.NewRouter(handler, api.NewChiMiddlewareFromConfig(cfg.Security))
	server := newHTTPServer(&cfg.Server, router.SetupChi())

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(services.NewStoreService(store))
	tree.AddMessagingService(services.NewSubscriptionService(manager))
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	if err := store.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing store client")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Syncbridge stopped")
}

func newHTTPServer(cfg *config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// storeConfig maps validated settings onto the store client.
func storeConfig(cfg config.StoreConfig) convex.Config {
	return convex.Config{
		URL:               cfg.URL,
		ClientID:          cfg.ClientID,
		AuthToken:         cfg.AuthToken,
		BackoffMin:        cfg.BackoffMin,
		BackoffMax:        cfg.BackoffMax,
		BackoffJitter:     cfg.BackoffJitter,
		MaxDowntime:       cfg.MaxDowntime,
		HeartbeatInterval: cfg.HeartbeatInterval,
		InactivityTimeout: cfg.InactivityTimeout,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		EventBuffer:       cfg.EventBuffer,
		BreakerFailures:   cfg.BreakerFailures,
		BreakerTimeout:    cfg.BreakerTimeout,
	}
}
