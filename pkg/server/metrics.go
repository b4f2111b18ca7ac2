package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyrag_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policyrag_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"route"},
	)
	snapshotSegments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "policyrag_snapshot_segments",
			Help: "Number of segments in the snapshot being served",
		},
	)
	snapshotReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyrag_snapshot_reloads_total",
			Help: "Total number of snapshot reloads by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, snapshotSegments, snapshotReloads)
}

// instrument counts and times requests to route.
func instrument(route string, h http.HandlerFunc) http.Handler {
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerCounter(httpRequests.MustCurryWith(labels),
		promhttp.InstrumentHandlerDuration(httpDuration.MustCurryWith(labels), h))
}
