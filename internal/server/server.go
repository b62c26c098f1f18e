// Package server exposes the coverage API over HTTP: the public lookup
// endpoint, the admin ingestion and area-management surface, health, and
// metrics.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/melhorpreco/coverage-api/internal/coverage"
	"github.com/melhorpreco/coverage-api/internal/metrics"
	"github.com/melhorpreco/coverage-api/internal/store"
)

// Server wires the coverage service and ingestor into an HTTP API.
type Server struct {
	service     *coverage.Service
	ingestor    *coverage.Ingestor
	store       store.Store
	maxUploadMB int64
}

// Option configures the Server.
type Option func(*Server)

// WithMaxUploadMB overrides the multipart upload size cap.
func WithMaxUploadMB(mb int64) Option {
	return func(s *Server) {
		if mb > 0 {
			s.maxUploadMB = mb
		}
	}
}

// New creates a Server.
func New(svc *coverage.Service, ing *coverage.Ingestor, st store.Store, opts ...Option) *Server {
	s := &Server{
		service:     svc,
		ingestor:    ing,
		store:       st,
		maxUploadMB: 25,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/coverage", s.handleLookup)
		r.Post("/coverage", s.handleIngest)

		r.Get("/providers", s.handleListProviders)

		r.Route("/areas", func(r chi.Router) {
			r.Get("/", s.handleListAreas)
			r.Get("/{id}", s.handleGetArea)
			r.Patch("/{id}/rank", s.handleUpdateRank)
			r.Delete("/{id}", s.handleDeleteArea)
		})
	})

	return r
}

// accessLog logs each request and feeds the HTTP metrics, labeled by route
// pattern so cardinality stays bounded.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed),
			zap.String("remote", r.RemoteAddr),
		)
	})
}
