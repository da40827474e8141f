// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package metrics provides Prometheus metrics for Tilevault.

All collectors are registered on the default registry through promauto and
exposed at /metrics by the admin API:

	curl http://localhost:3858/metrics

# Available Metrics

Downloads:
  - tilevault_download_sessions_total{outcome,error_type}
  - tilevault_download_bytes_total
  - tilevault_download_active_sessions
  - tilevault_download_duration_seconds{outcome}
  - tilevault_download_resumed_total

Offline loads:
  - tilevault_loads_total{kind,outcome}
  - tilevault_load_duration_seconds{kind}
  - tilevault_load_resources_scheduled_total{kind}
  - tilevault_style_cache_requests_total{result}

Resource store:
  - tilevault_store_size_bytes, tilevault_store_records, tilevault_store_budget_bytes
  - tilevault_store_evictions_total, tilevault_store_evicted_bytes_total
  - tilevault_store_puts_total{result}
  - tilevault_store_janitor_runs_total{task}

Resilience and delivery:
  - tilevault_circuit_breaker_state{name}
  - tilevault_circuit_breaker_transitions_total{name,from,to}
  - tilevault_events_published_total{type,result}
  - tilevault_websocket_connections
  - tilevault_api_requests_total{method,route,status}
  - tilevault_api_request_duration_seconds{method,route}

Use the Record* helpers rather than touching collectors directly.
*/
package metrics
