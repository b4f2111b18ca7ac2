package retriever

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

// Outcome label values for retrieveTotal.
const (
	outcomeOK         = "ok"
	outcomeEmptyQuery = "empty_query"
	outcomeEmbedding  = "embedding_error"
	outcomeError      = "error"
)

var (
	retrieveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policyrag_retrieve_duration_seconds",
			Help:    "Duration of retrievals, including the query embedding call",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)
	retrieveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyrag_retrieve_total",
			Help: "Total number of retrievals by outcome",
		},
		[]string{"outcome"},
	)
)

var tracer = otel.Tracer("github.com/perbu/policyrag/retriever")

func init() {
	prometheus.MustRegister(retrieveDuration, retrieveTotal)
}
