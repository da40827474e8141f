// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package supervisor runs the long-lived tilevault services under a suture v4
tree.

# Layout

	RootSupervisor ("tilevault")
	├── DataSupervisor ("data-layer")
	│   └── JanitorService (store maintenance)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocketHubService
	│   └── EventForwarderService (gochannel or nats backend)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Each layer counts failures on its own. A forwarder that keeps losing its
NATS subscription backs off inside the messaging layer while the API keeps
serving.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
	    FailureThreshold: cfg.Supervisor.FailureThreshold,
	    FailureDecay:     cfg.Supervisor.FailureDecay,
	    FailureBackoff:   cfg.Supervisor.FailureBackoff,
	    ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	tree.AddDataService(services.NewJanitorService(store.NewJanitor(st)))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	errCh := tree.ServeBackground(ctx)

# Restart Policy

Every failure raises a counter that decays over FailureDecay seconds. Past
FailureThreshold the supervisor waits FailureBackoff before the next
restart. A service returning nil is not restarted; a service returning an
error is.

# What Is Not Supervised

The store, download manager and orchestrator are libraries with their own
goroutines. main opens them before the tree starts and closes them after it
stops, in reverse order.

Services that miss ShutdownTimeout are listed by UnstoppedServiceReport;
LogUnstopped writes them to the log.
*/
package supervisor
