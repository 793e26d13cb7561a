// Package metrics provides Prometheus metrics for the entrytree server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Walk outcomes.
const (
	OutcomeComplete     = "complete"
	OutcomeMaxDepth     = "max_depth"
	OutcomeMaxFiles     = "max_files"
	OutcomeCancelled    = "cancelled"
	OutcomeInvalidInput = "invalid"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entrytree_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entrytree_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	walksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entrytree_walks_total",
			Help: "Total bounded tree walks by outcome",
		},
		[]string{"backend", "outcome"},
	)

	walkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entrytree_walk_duration_seconds",
			Help:    "Bounded tree walk duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	walkEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entrytree_walk_entries",
			Help:    "Files collected per walk",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	listingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entrytree_folder_listings_total",
			Help: "Folder listings issued to the engine",
		},
	)

	listingFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entrytree_listing_failures_total",
			Help: "Folder listings that failed and were absorbed, by error tag",
		},
		[]string{"tag"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entrytree_cache_lookups_total",
			Help: "Entry tree cache lookups by result",
		},
		[]string{"result"},
	)

	wsClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entrytree_ws_clients_active",
			Help: "Connected websocket clients",
		},
	)
)

// RecordWalk records a finished walk.
func RecordWalk(backend, outcome string, d time.Duration, entries int) {
	walksTotal.WithLabelValues(backend, outcome).Inc()
	walkDuration.WithLabelValues(backend).Observe(d.Seconds())
	if outcome != OutcomeCancelled && outcome != OutcomeInvalidInput {
		walkEntries.Observe(float64(entries))
	}
}

// RecordListing counts one folder listing.
func RecordListing() {
	listingsTotal.Inc()
}

// RecordListingFailure counts an absorbed listing failure.
func RecordListingFailure(tag string) {
	listingFailuresTotal.WithLabelValues(tag).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		cacheLookupsTotal.WithLabelValues("miss").Inc()
	}
}

// SetWSClients sets the number of connected websocket clients.
func SetWSClients(n int) {
	wsClientsActive.Set(float64(n))
}

// Middleware records request counts and latency, labelled by route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
