// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Download Session Metrics
	DownloadSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_download_sessions_total",
			Help: "Download sessions by terminal outcome",
		},
		[]string{"outcome", "error_type"}, // outcome: finished, not_modified, failed
	)

	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tilevault_download_bytes_total",
			Help: "Bytes read from the network by download sessions",
		},
	)

	DownloadActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tilevault_download_active_sessions",
			Help: "Download sessions currently transferring",
		},
	)

	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tilevault_download_duration_seconds",
			Help:    "Download session duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"outcome"},
	)

	DownloadResumedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tilevault_download_resumed_total",
			Help: "Download sessions that continued a partial file with a range request",
		},
	)

	// Offline Load Metrics
	LoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_loads_total",
			Help: "Tile region and style pack loads by terminal outcome",
		},
		[]string{"kind", "outcome"}, // kind: tile_region, style_pack
	)

	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tilevault_load_duration_seconds",
			Help:    "Duration of tile region and style pack loads",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)

	LoadResourcesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_load_resources_scheduled_total",
			Help: "Resources scheduled for download after delta computation",
		},
		[]string{"kind"},
	)

	StyleCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_style_cache_requests_total",
			Help: "Style document cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// Resource Store Metrics
	StoreSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tilevault_store_size_bytes",
			Help: "Total size of blobs held by the resource store",
		},
	)

	StoreRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tilevault_store_records",
			Help: "Number of resource records in the catalog",
		},
	)

	StoreBudgetBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tilevault_store_budget_bytes",
			Help: "Configured storage budget (0 = unlimited)",
		},
	)

	StoreEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tilevault_store_evictions_total",
			Help: "Resource records evicted by the disk quota evictor",
		},
	)

	StoreEvictedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tilevault_store_evicted_bytes_total",
			Help: "Bytes freed by the disk quota evictor",
		},
	)

	StorePutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_store_puts_total",
			Help: "Store writes by result",
		},
		[]string{"result"}, // ok, disk_full, error
	)

	StoreJanitorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_store_janitor_runs_total",
			Help: "Background store maintenance runs",
		},
		[]string{"task"}, // gc, sweep, evict
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tilevault_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Event Delivery Metrics
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_events_published_total",
			Help: "Load and removal events handed to notification sinks",
		},
		[]string{"type", "result"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tilevault_websocket_connections",
			Help: "Connected progress stream clients",
		},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_api_requests_total",
			Help: "Admin API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tilevault_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// RecordDownload records the terminal outcome of a download session.
// errorType is empty for successful sessions.
func RecordDownload(outcome, errorType string, duration time.Duration) {
	DownloadSessionsTotal.WithLabelValues(outcome, errorType).Inc()
	DownloadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// TrackActiveDownload adjusts the active session gauge.
func TrackActiveDownload(inc bool) {
	if inc {
		DownloadActiveSessions.Inc()
	} else {
		DownloadActiveSessions.Dec()
	}
}

// RecordLoad records the terminal outcome of a tile region or style pack load.
func RecordLoad(kind, outcome string, duration time.Duration) {
	LoadsTotal.WithLabelValues(kind, outcome).Inc()
	LoadDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordStyleCache records a style document cache lookup.
func RecordStyleCache(hit bool) {
	if hit {
		StyleCacheRequests.WithLabelValues("hit").Inc()
	} else {
		StyleCacheRequests.WithLabelValues("miss").Inc()
	}
}

// UpdateStoreGauges publishes the store's current size and record count.
func UpdateStoreGauges(sizeBytes, records, budget int64) {
	StoreSizeBytes.Set(float64(sizeBytes))
	StoreRecords.Set(float64(records))
	StoreBudgetBytes.Set(float64(budget))
}

// RecordEviction records one evicted record.
func RecordEviction(sizeBytes int64) {
	StoreEvictionsTotal.Inc()
	StoreEvictedBytesTotal.Add(float64(sizeBytes))
}

// RecordCircuitBreakerTransition records a breaker state change. States are
// the gobreaker state names (closed, half-open, open).
func RecordCircuitBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordEventPublished records a sink delivery attempt.
func RecordEventPublished(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublishedTotal.WithLabelValues(eventType, result).Inc()
}

// RecordAPIRequest records an admin API request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
