// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires the handlers into a chi router.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a Router.
func NewRouter(handler *Handler, middleware *Middleware) *Router {
	if middleware == nil {
		middleware = NewMiddleware(nil)
	}
	return &Router{handler: handler, middleware: middleware}
}

// SetupChi configures every route.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()
	h := router.handler
	mw := router.middleware

	// Global middleware, in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(RequestLogging)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(mw.RateLimitCustom(RateLimitHealth))
		r.Use(APISecurityHeaders())
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(PrometheusMetrics)

		r.With(mw.RateLimitCustom(RateLimitWebSocket)).Get("/ws", h.WebSocket)

		r.Route("/regions", func(r chi.Router) {
			r.With(Compression).Get("/", h.ListRegions)
			r.Get("/{id}", h.GetRegion)
			r.Get("/{id}/operation", h.RegionOperation)
			r.Get("/{id}/metadata", h.GetRegionMetadata)
			r.Post("/{id}/contains", h.RegionContains)

			r.Group(func(r chi.Router) {
				r.Use(mw.RateLimitCustom(RateLimitWrite))
				r.Put("/{id}", h.LoadRegion)
				r.Delete("/{id}", h.RemoveRegion)
				r.Post("/{id}/invalidate", h.InvalidateRegion)
				r.Post("/{id}/cancel", h.CancelRegion)
				r.Put("/{id}/metadata", h.SetRegionMetadata)
			})
		})

		// Style packs are keyed by URI, passed as ?uri=.
		r.Route("/stylepacks", func(r chi.Router) {
			r.With(Compression).Get("/", h.ListStylePacks)
			r.Get("/pack", h.GetStylePack)
			r.Get("/pack/operation", h.StylePackOperation)
			r.Get("/pack/metadata", h.GetStylePackMetadata)

			r.Group(func(r chi.Router) {
				r.Use(mw.RateLimitCustom(RateLimitWrite))
				r.Put("/pack", h.LoadStylePack)
				r.Delete("/pack", h.RemoveStylePack)
				r.Post("/pack/invalidate", h.InvalidateStylePack)
				r.Post("/pack/cancel", h.CancelStylePack)
				r.Put("/pack/metadata", h.SetStylePackMetadata)
			})
		})

		r.Route("/downloads", func(r chi.Router) {
			r.With(Compression).Get("/", h.ListDownloads)
			r.Get("/{id}", h.GetDownload)
			r.With(mw.RateLimitCustom(RateLimitWrite)).Post("/", h.StartDownload)
			r.Delete("/{id}", h.CancelDownload)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Get("/offline-switch", h.GetOfflineSwitch)
			r.Put("/offline-switch", h.SetOfflineSwitch)
			r.Get("/tile-count-limit", h.GetTileCountLimit)
			r.Put("/tile-count-limit", h.SetTileCountLimit)
			r.Get("/network", h.GetNetwork)
			r.Put("/network", h.SetNetwork)
		})

		r.Route("/store", func(r chi.Router) {
			r.Get("/stats", h.StoreStats)
			r.Post("/reduce-memory-use", h.ReduceMemoryUse)
			r.Put("/budget", h.SetBudget)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
