// Package metrics provides Prometheus metrics for the navigator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s4_store_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s4_store_operations_total",
			Help: "Total object store operations",
		},
		[]string{"operation", "status"},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s4_cache_lookups_total",
			Help: "Children lookups served from cache or requiring a fetch",
		},
		[]string{"result"},
	)

	cacheNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "s4_cache_nodes",
			Help: "Number of nodes held by the tree cache",
		},
	)

	listingPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s4_listing_pages_total",
			Help: "Listing pages merged into the cache",
		},
	)

	// Aggregation metrics
	walksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s4_aggregation_walks_total",
			Help: "Aggregation walks by outcome",
		},
		[]string{"outcome"},
	)

	walksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "s4_aggregation_walks_active",
			Help: "Aggregation walks currently running",
		},
	)

	// Deletion metrics
	deletedObjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s4_deleted_objects_total",
			Help: "Objects submitted for deletion by outcome",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStoreOperation records an object store call.
func RecordStoreOperation(operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(operation, status(success)).Inc()
}

// RecordCacheLookup records whether a children lookup was served from cache.
func RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetCacheNodes sets the number of cached nodes.
func SetCacheNodes(n int) {
	cacheNodes.Set(float64(n))
}

// RecordListingPage counts a merged listing page.
func RecordListingPage() {
	listingPagesTotal.Inc()
}

// RecordWalk records a finished aggregation walk.
func RecordWalk(outcome string) {
	walksTotal.WithLabelValues(outcome).Inc()
}

// AddActiveWalks adjusts the running walk gauge.
func AddActiveWalks(delta int) {
	walksActive.Add(float64(delta))
}

// RecordDeletedObjects records the outcome of a delete batch.
func RecordDeletedObjects(deleted, failed int) {
	deletedObjectsTotal.WithLabelValues("success").Add(float64(deleted))
	deletedObjectsTotal.WithLabelValues("error").Add(float64(failed))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
