// Package metrics exposes Prometheus metrics for the scanner.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scan metrics
	Watermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duncan_scanner_watermark_block",
			Help: "Highest block whose events are durably recorded",
		},
		[]string{"chain"},
	)

	LatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duncan_scanner_latest_block",
			Help: "Latest block reported by the chain RPC",
		},
		[]string{"chain"},
	)

	LogsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duncan_scanner_logs_found_total",
			Help: "Total number of NFPM logs fetched",
		},
		[]string{"chain"},
	)

	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duncan_scanner_events_appended_total",
			Help: "Total number of events written to the ledger",
		},
		[]string{"chain", "kind"},
	)

	ParseAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duncan_scanner_parse_anomalies_total",
			Help: "Total number of logs dropped due to unexpected shape",
		},
		[]string{"chain"},
	)

	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duncan_scanner_tick_duration_seconds",
			Help:    "Duration of scan ticks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// Reorg metrics
	ReorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duncan_scanner_reorgs_detected_total",
			Help: "Total number of reorgs detected",
		},
		[]string{"chain"},
	)

	RolledBackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duncan_scanner_rolled_back_events_total",
			Help: "Total number of ledger events deleted during rollbacks",
		},
		[]string{"chain"},
	)

	FetchSpan = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duncan_scanner_fetch_span_blocks",
			Help: "Current adaptive getLogs span",
		},
		[]string{"chain"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duncan_scanner_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duncan_scanner_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component"},
	)

	ChainHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duncan_scanner_chain_health",
			Help: "Chain task health (1=healthy, 0=unhealthy)",
		},
		[]string{"chain"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duncan_scanner_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duncan_scanner_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func WatermarkSet(chain string, block uint64) {
	Watermark.WithLabelValues(chain).Set(float64(block))
}

func LatestBlockSet(chain string, block uint64) {
	LatestBlock.WithLabelValues(chain).Set(float64(block))
}

func LogsFoundAdd(chain string, count int) {
	LogsFound.WithLabelValues(chain).Add(float64(count))
}

func EventAppendedInc(chain, kind string) {
	EventsAppended.WithLabelValues(chain, kind).Inc()
}

func ParseAnomalyInc(chain string) {
	ParseAnomalies.WithLabelValues(chain).Inc()
}

func TickDurationLog(chain string, duration time.Duration) {
	TickDuration.WithLabelValues(chain).Observe(duration.Seconds())
}

func ReorgDetectedInc(chain string) {
	ReorgsDetected.WithLabelValues(chain).Inc()
}

func RolledBackEventsAdd(chain string, count int64) {
	RolledBackEvents.WithLabelValues(chain).Add(float64(count))
}

func FetchSpanSet(chain string, span uint64) {
	FetchSpan.WithLabelValues(chain).Set(float64(span))
}

func ErrorInc(component string) {
	Errors.WithLabelValues(component).Inc()
}

func ChainHealthSet(chain string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ChainHealth.WithLabelValues(chain).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
