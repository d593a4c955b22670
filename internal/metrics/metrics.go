// Package metrics exposes the pipeline's prometheus instrumentation.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "siripipe_"

var recordsProcessed = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "records_processed_total",
		Help: "Total records successfully written to the warehouse",
	},
)

var recordsFailed = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "records_failed_total",
		Help: "Total records that failed validation or ingestion",
	},
)

var ingestionLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    prefix + "ingestion_latency_seconds",
		Help:    "Latency of a single channel flush to the warehouse",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

var activeChannels = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "active_channels",
		Help: "Number of active streaming channels",
	},
)

var memoryUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "memory_usage_mb",
		Help: "Process memory usage in MB",
	},
)

// RecordsProcessed increments the processed-records counter.
func RecordsProcessed(n int) {
	recordsProcessed.Add(float64(n))
}

// RecordsFailed increments the failed-records counter.
func RecordsFailed(n int) {
	recordsFailed.Add(float64(n))
}

// ObserveIngestionLatency records the duration of one flush.
func ObserveIngestionLatency(d time.Duration) {
	ingestionLatency.Observe(d.Seconds())
}

// SetActiveChannels sets the active-channel gauge.
func SetActiveChannels(n int) {
	activeChannels.Set(float64(n))
}

// UpdateMemoryUsage samples process memory and updates the gauge. Returns the
// sampled value in MB so callers can reuse it for the health endpoint.
func UpdateMemoryUsage() float64 {
	var stats runtime.MemStats

	runtime.ReadMemStats(&stats)

	mb := float64(stats.Sys) / 1024 / 1024
	memoryUsage.Set(mb)

	return mb
}
