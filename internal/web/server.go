// Package web provides the HTTP API for the automation engine.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/JonMunkholm/ledgersync/internal/config"
	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/web/middleware"
)

// Server is the HTTP server for the automation engine.
type Server struct {
	engine *core.Engine
	cfg    *config.Config
	router *chi.Mux
	server *http.Server

	limiters []*rateLimiter
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer builds the router. HTTP collectors are registered on reg and
// /metrics serves everything gathered from it.
func NewServer(engine *core.Engine, cfg *config.Config, reg *prometheus.Registry) (*Server, error) {
	s := &Server{
		engine: engine,
		cfg:    cfg,
		router: chi.NewRouter(),
		done:   make(chan struct{}),
	}

	metrics, err := middleware.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	s.setupMiddleware(metrics)
	s.setupRoutes(reg)
	return s, nil
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware(metrics *middleware.Metrics) {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(metrics.Handler)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newLimiter(s.cfg.Rate.RequestsPerMinute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(reg *prometheus.Registry) {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))

		// Event stream is long-lived and skips the request timeout.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
			}

			r.Get("/stats", s.handleStats)

			// Workflows
			r.Group(func(r chi.Router) {
				if s.cfg.Rate.Enabled && s.cfg.Rate.WorkflowLimit > 0 {
					r.Use(s.newLimiter(s.cfg.Rate.WorkflowLimit).middleware)
				}
				r.Post("/workflows/data-entry", s.handleDataEntry)
				r.Post("/workflows/collection", s.handleCollection)
			})
			r.Get("/workflows", s.handleListWorkflows)
			r.Get("/workflows/{id}", s.handleGetWorkflow)

			// Real-time sync
			r.Post("/sync/enable", s.handleEnableSync)
			r.Post("/sync/disable", s.handleDisableSync)
			r.Post("/sync/run", s.handleRunSync)
			r.Get("/sync/failed", s.handleFailedVouchers)
			r.Post("/sync/failed/{id}/retry", s.handleRetryVoucher)

			// Conflicts
			r.Get("/conflicts", s.handleListConflicts)
			r.Post("/conflicts/{id}/acknowledge", s.handleAcknowledgeConflict)

			// Automation rules
			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules/{id}", s.handleGetRule)
			r.Post("/rules/{id}/enable", s.handleEnableRule)
			r.Post("/rules/{id}/disable", s.handleDisableRule)
			r.Post("/rules/{id}/run", s.handleRunRule)
		})
	})
}

func (s *Server) newLimiter(perMinute int) *rateLimiter {
	l := newRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, l)
	return l
}

// Start begins listening for HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(s.router, "ledgersync.http"),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting HTTP server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown ends open event streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.done)
		for _, l := range s.limiters {
			l.stop()
		}
	})
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
