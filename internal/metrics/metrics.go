// Package metrics exposes Prometheus instrumentation for the coverage API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_http_requests_total",
		Help: "Total HTTP requests by route and status code",
	}, []string{"route", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coverage_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"route"})
	LookupResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_lookup_results_total",
		Help: "Coverage lookup outcomes by reason code",
	}, []string{"reason"})
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_cache_hits_total",
		Help: "Cache hits by cache kind",
	}, []string{"kind"})
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_cache_misses_total",
		Help: "Cache misses by cache kind",
	}, []string{"kind"})
	IngestDocuments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_ingest_documents_total",
		Help: "Ingested documents by outcome",
	}, []string{"outcome"})
	IngestAreasCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coverage_ingest_areas_created_total",
		Help: "Coverage areas created by ingestion",
	})
	GeocodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coverage_geocode_duration_seconds",
		Help:    "End-to-end CEP resolution duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(LookupResults)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(IngestDocuments)
	prometheus.MustRegister(IngestAreasCreated)
	prometheus.MustRegister(GeocodeDuration)
}

// Handler serves the /metrics scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
