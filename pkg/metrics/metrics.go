// Package metrics provides Prometheus metrics for the consensus engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsTotal counts price submissions by asset and outcome.
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_submissions_total",
			Help: "Total number of price submissions processed",
		},
		[]string{"asset", "status"},
	)

	// SubmissionRejectionsTotal counts rejected submissions by reason.
	SubmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_submission_rejections_total",
			Help: "Total number of rejected price submissions by reason",
		},
		[]string{"reason"},
	)

	// AggregationDuration is a histogram of aggregation round durations.
	AggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_aggregation_duration_seconds",
			Help:    "Duration of price aggregation rounds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"asset"},
	)

	// AggregationsTotal counts aggregation rounds by asset and outcome.
	AggregationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_aggregations_total",
			Help: "Total number of aggregation rounds",
		},
		[]string{"asset", "status"},
	)

	// OutlierRejectionsTotal counts submissions discarded as outliers.
	OutlierRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_outlier_rejections_total",
			Help: "Total number of submissions rejected as outliers",
		},
		[]string{"asset"},
	)

	// AnomalyFlagsTotal counts advisory anomaly detections by type.
	AnomalyFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_anomaly_flags_total",
			Help: "Total number of advisory anomaly flags raised",
		},
		[]string{"type"},
	)

	// NodeReputation is a gauge of each node's current reputation score.
	NodeReputation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oracle_node_reputation",
			Help: "Current reputation score per oracle node",
		},
		[]string{"node"},
	)

	// FallbackReadsTotal counts fallback price reads.
	FallbackReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_fallback_reads_total",
			Help: "Total number of fallback price reads served",
		},
		[]string{"asset"},
	)

	// HTTPRequestsTotal counts HTTP requests by endpoint and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// Init registers all engine metrics.
func Init() {
	prometheus.MustRegister(
		SubmissionsTotal,
		SubmissionRejectionsTotal,
		AggregationDuration,
		AggregationsTotal,
		OutlierRejectionsTotal,
		AnomalyFlagsTotal,
		NodeReputation,
		FallbackReadsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP serves Prometheus metrics on the specified address.
func ServeHTTP(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordSubmission records a processed submission.
func RecordSubmission(asset, status string) {
	SubmissionsTotal.WithLabelValues(asset, status).Inc()
}

// RecordRejection records a rejected submission by reason. Reasons must be
// low-cardinality labels, not raw error strings.
func RecordRejection(reason string) {
	SubmissionRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordAggregation records an aggregation round duration.
func RecordAggregation(asset string, duration time.Duration) {
	AggregationDuration.WithLabelValues(asset).Observe(duration.Seconds())
}

// RecordAggregationOutcome records an aggregation round outcome.
func RecordAggregationOutcome(asset, status string) {
	AggregationsTotal.WithLabelValues(asset, status).Inc()
}

// RecordOutlierRejection records an outlier rejection.
func RecordOutlierRejection(asset string) {
	OutlierRejectionsTotal.WithLabelValues(asset).Inc()
}

// RecordAnomaly records an advisory anomaly flag.
func RecordAnomaly(anomalyType string) {
	AnomalyFlagsTotal.WithLabelValues(anomalyType).Inc()
}

// RecordNodeReputation updates a node's reputation gauge.
func RecordNodeReputation(node string, score uint32) {
	NodeReputation.WithLabelValues(node).Set(float64(score))
}

// RecordFallbackRead records a served fallback read.
func RecordFallbackRead(asset string) {
	FallbackReadsTotal.WithLabelValues(asset).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
