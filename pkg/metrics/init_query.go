package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initQueryMetrics() {
	r.QueriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serengeti_queries_total",
			Help: "Statements executed",
		},
		[]string{"type", "status"}, // type: select, insert, ...; status: ok, error
	)

	r.QueryDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serengeti_query_duration_seconds",
			Help:    "Statement execution duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 10.0},
		},
		[]string{"type"},
	)

	r.QueryRowsReturned = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "serengeti_query_rows_returned",
			Help:    "Rows returned per SELECT",
			Buckets: prometheus.ExponentialBuckets(1, 10, 7),
		},
	)

	r.ParseErrorsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "serengeti_query_parse_errors_total",
			Help: "Statements rejected by the parser",
		},
	)
}
