// Package metrics defines the Prometheus metrics exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueryBuckets covers embedding plus a brute-force scan, from 5ms to 10s.
var QueryBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	// ReconcileRunsTotal counts pipeline runs by outcome (ok, error, cancelled).
	ReconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shashin_reconcile_runs_total",
			Help: "Reconcile runs",
		},
		[]string{"status"},
	)

	// ReconcileDuration records how long a full reconcile pass takes.
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shashin_reconcile_duration_seconds",
			Help:    "Reconcile duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 9),
		},
	)

	// ImagesEmbeddedTotal counts image entries written to the images collection.
	ImagesEmbeddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shashin_images_embedded_total",
			Help: "Images embedded",
		},
	)

	// TextsEmbeddedTotal counts OCR text entries written to the texts collection.
	TextsEmbeddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shashin_texts_embedded_total",
			Help: "OCR texts embedded",
		},
	)

	// IndexFailuresTotal counts skipped items by stage (embed, upsert, ocr, text).
	IndexFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shashin_index_failures_total",
			Help: "Index failures",
		},
		[]string{"stage"},
	)

	// EntriesPurgedTotal counts orphan entries removed from the images collection.
	EntriesPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shashin_entries_purged_total",
			Help: "Orphan entries purged",
		},
	)

	// QueryDuration records query latency by kind (text, image, ocr, keyword).
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shashin_query_duration_seconds",
			Help:    "Query duration",
			Buckets: QueryBuckets,
		},
		[]string{"kind"},
	)

	// CollectionEntries reports the entry count of each collection after a run.
	CollectionEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shashin_collection_entries",
			Help: "Entries per collection",
		},
		[]string{"collection"},
	)

	// HTTPRequestsTotal counts API requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shashin_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ReconcileRunsTotal,
		ReconcileDuration,
		ImagesEmbeddedTotal,
		TextsEmbeddedTotal,
		IndexFailuresTotal,
		EntriesPurgedTotal,
		QueryDuration,
		CollectionEntries,
		HTTPRequestsTotal,
	)
}

// StatusClass maps an HTTP status code to "2xx", "4xx", and so on.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
