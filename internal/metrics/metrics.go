// Package metrics declares the Prometheus collectors shared by the client,
// the session cache and the catalog index.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Remote calls
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partbom_api_calls_total",
			Help: "Total number of calls made to the parts service",
		},
		[]string{"endpoint", "status"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partbom_api_call_duration_seconds",
			Help:    "Duration of calls to the parts service",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Cache
	ViewLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partbom_view_loads_total",
			Help: "View loads committed to the cache, by view and outcome",
		},
		[]string{"view", "outcome"},
	)

	StaleDiscardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partbom_stale_discards_total",
			Help: "Fetch results dropped because the selection or tree moved on",
		},
		[]string{"kind"},
	)

	CachedNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "partbom_cached_nodes",
			Help: "Number of tree nodes held for the current selection",
		},
	)

	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partbom_mutations_total",
			Help: "Writes issued against the parts service",
		},
		[]string{"op", "status"},
	)

	// Catalog
	CatalogRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partbom_catalog_refreshes_total",
			Help: "Background catalog refreshes",
		},
		[]string{"status"},
	)

	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "partbom_catalog_parts",
			Help: "Number of parts in the catalog index",
		},
	)
)

// RecordAPICall records one remote call.
func RecordAPICall(endpoint, status string, d time.Duration) {
	APICallsTotal.WithLabelValues(endpoint, status).Inc()
	APICallDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func RecordViewLoad(view string, err error) {
	ViewLoadsTotal.WithLabelValues(view, outcome(err)).Inc()
}

func RecordStale(kind string) {
	StaleDiscardsTotal.WithLabelValues(kind).Inc()
}

func RecordMutation(op string, err error) {
	MutationsTotal.WithLabelValues(op, outcome(err)).Inc()
}

func RecordCatalogRefresh(err error, size int) {
	CatalogRefreshesTotal.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		CatalogSize.Set(float64(size))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
