// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package services

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/syncbridge/internal/convex"
	"github.com/tomtom215/syncbridge/internal/logging"
)

// RunnableStore matches (*convex.Client).Run.
type RunnableStore interface {
	Run(ctx context.Context) error
}

// StoreService runs the upstream store connection.
//
// The client reconnects internally with backoff, so Run only returns on
// shutdown, on Close, or when the store rejects authentication. The latter
// two are terminal.
type StoreService struct {
	store RunnableStore
	name  string
}

// NewStoreService wraps store.
func NewStoreService(store RunnableStore) *StoreService {
	return &StoreService{store: store, name: "store-client"}
}

// Serve implements suture.Service.
func (s *StoreService) Serve(ctx context.Context) error {
	err := s.store.Run(ctx)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, convex.ErrAuthFailed):
		logging.Error().Err(err).Msg("Store authentication failed, not restarting store client")
		return suture.ErrDoNotRestart
	case err != nil:
		return err
	default:
		logging.Info().Msg("Store client closed")
		return suture.ErrDoNotRestart
	}
}

func (s *StoreService) String() string {
	return s.name
}
