// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "selfmap"

var (
	// BatchCommits counts committed delete batches.
	BatchCommits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_commits_total",
		Help:      "Delete batches committed to the document store.",
	})

	// DocumentsDeleted counts documents removed through batches.
	DocumentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_deleted_total",
		Help:      "Documents removed by batched deletes.",
	})

	// SubscriptionsActive tracks live query subscriptions.
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscriptions_active",
		Help:      "Live query subscriptions currently open.",
	})

	// GeocodeFailures counts absorbed reverse-geocode failures.
	GeocodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geocode_failures_total",
		Help:      "Reverse geocode lookups that degraded to an empty address.",
	})

	// ActivityAppendFailures counts swallowed activity writes.
	ActivityAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activity_append_failures_total",
		Help:      "Activity entries that failed to persist.",
	})

	// MarkersCreated counts markers written.
	MarkersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "markers_created_total",
		Help:      "Markers created.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
