// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package services

import (
	"context"
)

// ContextHub matches (*websocket.Hub).RunWithContext.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the session registry. The hub closes every session with
// 1001 when its context ends.
type HubService struct {
	hub  ContextHub
	name string
}

// NewHubService wraps hub.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{hub: hub, name: "websocket-hub"}
}

// Serve implements suture.Service.
func (w *HubService) Serve(ctx context.Context) error {
	return w.hub.RunWithContext(ctx)
}

func (w *HubService) String() string {
	return w.name
}
