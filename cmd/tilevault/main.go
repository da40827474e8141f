// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package main is the tilevault server.
//
// Tilevault downloads map tile regions and style packs for offline use and
// keeps them in a budgeted local store. An HTTP API on port 8089 starts,
// cancels and inspects loads; a WebSocket streams their progress.
//
// # Startup Order
//
//  1. Configuration: koanf defaults, optional YAML file, environment
//  2. Logging and the initial offline settings
//  3. Store: badger catalog and blob directory
//  4. Download manager, style resolver, event bus, WebSocket hub
//  5. Region orchestrator
//  6. Supervisor tree: janitor, hub, event forwarder, HTTP server
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the supervisor tree, which shuts the HTTP server
// down gracefully. Running loads are canceled when the orchestrator closes;
// the store closes last.
//
// # Example
//
//	STORE_PATH=/var/lib/tilevault DOWNLOAD_DIR=/var/lib/tilevault/files ./tilevault
//	curl -X PUT localhost:8089/api/v1/regions/paris?wait=true \
//	  -d '{"geometry":{"type":"Point","coordinates":[2.35,48.85]},
//	       "descriptors":[{"style_uri":"https://tiles.example/styles/streets.json","min_zoom":0,"max_zoom":10}]}'
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/tilevault/internal/api"
	"github.com/tomtom215/tilevault/internal/config"
	"github.com/tomtom215/tilevault/internal/download"
	"github.com/tomtom215/tilevault/internal/events"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/region"
	"github.com/tomtom215/tilevault/internal/resolver"
	"github.com/tomtom215/tilevault/internal/settings"
	"github.com/tomtom215/tilevault/internal/store"
	"github.com/tomtom215/tilevault/internal/supervisor"
	"github.com/tomtom215/tilevault/internal/supervisor/services"
	ws "github.com/tomtom215/tilevault/internal/websocket"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Tilevault stopped with an error")
	}
	logging.Info().Msg("Tilevault stopped gracefully")
}

func run(cfg *config.Config) error {
	logging.Info().
		Str("store_path", cfg.Store.Path).
		Int64("budget_bytes", cfg.Store.BudgetBytes).
		Str("events_backend", cfg.Events.Backend).
		Str("addr", cfg.Server.Addr()).
		Msg("Starting tilevault")

	settings.Init(cfg.Settings)

	st, err := store.Open(&cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	downloads := download.NewManager(cfg.Download, nil)
	defer downloads.Close()

	res := resolver.New(resolver.NewGLStyleSource(downloads, cfg.Region.ResourceTimeout), cfg.Resolver)

	bus, err := events.Open(cfg.Events, logging.NewWatermillAdapter())
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	hub := ws.NewHub()

	// Without a bus the hub is the only sink. With one, events go through
	// the bus and the forwarder delivers them to the hub, so every instance
	// on a shared NATS topic reaches every client.
	var sink events.Sink = hub
	if bus.Backend() != events.BackendNone {
		sink = bus.Sink()
	}

	orch, err := region.New(cfg.Region, st, res, downloads, sink)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	defer orch.Close()

	handler := api.NewHandler(api.Deps{
		Orchestrator:   orch,
		Store:          st,
		Downloads:      downloads,
		Hub:            hub,
		DownloadDir:    cfg.Server.DownloadDir,
		AllowedOrigins: cfg.Server.CORSOrigins,
		WaitTimeout:    cfg.Server.WaitTimeout,
	})
	mwCfg := api.DefaultMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mwCfg.RateLimitRequests = cfg.Server.RateLimitRequests
	mwCfg.RateLimitWindow = cfg.Server.RateLimitWindow
	mwCfg.RateLimitDisabled = cfg.Server.RateLimitDisabled
	router := api.NewRouter(handler, api.NewMiddleware(mwCfg))

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(services.NewJanitorService(store.NewJanitor(st)))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	if bus.Backend() != events.BackendNone {
		tree.AddMessagingService(services.NewEventForwarderService(bus, hub))
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	tree.LogUnstopped()

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", serveErr)
	}
	return nil
}
