// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

// Package logging provides the zerolog-based structured logging used across Syncbridge.
//
// A single global logger is configured once at startup with Init and is safe
// for concurrent use. Every other package logs through the level helpers:
//
//	logging.Info().Str("fingerprint", fp.Short()).Msg("Upstream subscription created")
//	logging.Err(err).Msg("Store connection lost")
//
// # Context Fields
//
// Request, correlation and session identifiers travel in context.Context and
// are attached automatically by Ctx:
//
//	ctx = logging.ContextWithSessionID(ctx, sessionID)
//	logging.Ctx(ctx).Debug().Msg("Subscribe frame accepted")
//
// # slog Bridge
//
// Libraries that require *slog.Logger (suture via sutureslog) receive one built
// by NewSlogLogger, which forwards every record into the zerolog backend.
//
// # Output Formats
//
//   - json: machine-parseable, the default
//   - console: human-readable, for development
package logging
