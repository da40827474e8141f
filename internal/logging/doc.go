// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package logging provides centralized zerolog-based structured logging for Tilevault.
//
// A single global zerolog.Logger is configured once at startup and accessed
// through package-level helpers:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("region", id).Msg("Region load started")
//	logging.Err(err).Str("url", u).Msg("Download failed")
//
// Context helpers attach a correlation ID and the owner of a load (tile region
// or style pack) so that every line emitted while servicing one load can be
// grouped:
//
//	ctx = logging.ContextWithOwner(logging.ContextWithNewCorrelationID(ctx), "region:paris")
//	logging.Ctx(ctx).Debug().Int("delta", n).Msg("Scheduling downloads")
//
// Adapters expose the same logger to libraries that expect a different
// logging interface:
//
//   - SlogHandler: log/slog backend, used by sutureslog in the supervisor tree
//   - WatermillAdapter: watermill.LoggerAdapter, used by the event publisher
//
// # Configuration
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller info (default: false)
//
// Always terminate log chains with .Msg() or .Send(); an unterminated event
// is never written.
package logging
