package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the pipeline's Prometheus metrics.
type Metrics struct {
	ExtractionsTotal         *prometheus.CounterVec
	DestinationFailuresTotal *prometheus.CounterVec
	ProcessedTotal           *prometheus.CounterVec
	ApplyDuration            prometheus.Histogram
	TagIndexSize             prometheus.Gauge
}

// NewMetrics registers the pipeline metrics once per process and returns them.
//
// Metrics:
//   - memoryd_extractions_total{provider,outcome} - extraction calls by outcome
//   - memoryd_destination_failures_total{destination} - failed destination writes
//   - memoryd_processed_total{status} - processed memories by final status
//   - memoryd_apply_duration_seconds - time spent applying one result
//   - memoryd_tag_index_size - distinct tags in the tag score index
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ExtractionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memoryd_extractions_total",
					Help: "Total extraction calls by provider and outcome",
				},
				[]string{"provider", "outcome"}, // success, provider_error, parse_error
			),
			DestinationFailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memoryd_destination_failures_total",
					Help: "Total failed destination writes during apply",
				},
				[]string{"destination"},
			),
			ProcessedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memoryd_processed_total",
					Help: "Total processed memories by final status",
				},
				[]string{"status"},
			),
			ApplyDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memoryd_apply_duration_seconds",
					Help:    "Duration of applying one processing result",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
				},
			),
			TagIndexSize: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "memoryd_tag_index_size",
					Help: "Number of distinct tags in the tag score index",
				},
			),
		}
	})
	return globalMetrics
}
