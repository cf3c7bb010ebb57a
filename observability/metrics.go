package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type lendingMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	seized     *prometheus.CounterVec
	flashLoans *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *lendingMetrics
)

// Lending returns the lazily-initialised metrics registry tracking protocol
// operations served by the engine.
func Lending() *lendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &lendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openlend",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Count of lending engine operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "openlend",
				Subsystem: "lending",
				Name:      "operation_duration_seconds",
				Help:      "Latency of lending engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			seized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openlend",
				Subsystem: "lending",
				Name:      "liquidation_seizures_total",
				Help:      "Count of collateral seizures segmented by collateral asset.",
			}, []string{"asset"}),
			flashLoans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openlend",
				Subsystem: "lending",
				Name:      "flash_loans_total",
				Help:      "Count of flash loan settlements segmented by asset and outcome.",
			}, []string{"asset", "outcome"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.seized,
			lendingRegistry.flashLoans,
		)
	})
	return lendingRegistry
}

// RecordOperation tallies a finished engine operation and its duration.
func (m *lendingMetrics) RecordOperation(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordSeizure tallies a collateral seizure for the supplied asset ticker.
func (m *lendingMetrics) RecordSeizure(asset string) {
	if m == nil {
		return
	}
	m.seized.WithLabelValues(normalizeAsset(asset)).Inc()
}

// RecordFlashLoan tallies a flash loan settlement.
func (m *lendingMetrics) RecordFlashLoan(asset string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.flashLoans.WithLabelValues(normalizeAsset(asset), outcome).Inc()
}

func normalizeAsset(asset string) string {
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
