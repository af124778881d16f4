// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package services

import (
	"context"
	"fmt"
)

// Runner matches (*subscription.Manager).Run.
type Runner interface {
	Run(ctx context.Context) error
}

// SubscriptionService runs the subscription manager loop.
//
// The manager releases every upstream subscription when Run returns, so a
// restart starts from an empty registry and sessions must resubscribe.
type SubscriptionService struct {
	manager Runner
	name    string
}

// NewSubscriptionService wraps manager.
func NewSubscriptionService(manager Runner) *SubscriptionService {
	return &SubscriptionService{manager: manager, name: "subscription-manager"}
}

// Serve implements suture.Service.
func (s *SubscriptionService) Serve(ctx context.Context) error {
	if err := s.manager.Run(ctx); err != nil {
		return fmt.Errorf("subscription manager failed: %w", err)
	}
	return ctx.Err()
}

func (s *SubscriptionService) String() string {
	return s.name
}
