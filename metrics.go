package dca

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// --- Prometheus Metrics Definition ---

// Metrics contains all the Prometheus metrics for the DCASystem.
// Encapsulating them in a struct keeps the main system struct clean and organized.
type Metrics struct {
	// --- Tier 1: Critical System Health & Liveness ---
	ErrorsTotal *prometheus.CounterVec

	// --- Tier 2: Performance & Bottleneck Identification ---
	ScanDuration      *prometheus.HistogramVec
	KeeperRunDuration *prometheus.HistogramVec

	// --- Tier 3: Data & State Integrity ---
	AccountsInRegistry *prometheus.GaugeVec
	DepositsTotal      *prometheus.CounterVec
	DeductionsTotal    *prometheus.CounterVec
	ExecutionsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all the Prometheus metrics for the system.
// It takes a prometheus.Registerer to allow for flexible registration (e.g., default vs. custom).
func NewMetrics(reg prometheus.Registerer, systemName string) *Metrics {
	return &Metrics{
		// --- Tier 1 Metrics ---
		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "dca_system_errors_total",
			Help:      "Total number of errors encountered by the system, labeled by error type.",
		}, []string{"type"}),

		// --- Tier 2 Metrics ---
		ScanDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: systemName,
			Name:      "dca_system_scan_duration_seconds",
			Help:      "A histogram of the time it takes to scan the full owner list for a due account.",
			Buckets:   prometheus.DefBuckets,
		}, []string{}),

		KeeperRunDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: systemName,
			Name:      "dca_system_keeper_run_duration_seconds",
			Help:      "A histogram of the time one keeper cycle takes, scan and execution hand-off included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{}),

		// --- Tier 3 Metrics ---
		AccountsInRegistry: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "dca_system_accounts_in_registry_total",
			Help:      "The total number of accounts currently registered in the system.",
		}, []string{}),

		DepositsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "dca_system_deposits_total",
			Help:      "A counter of successful execution-fee deposits.",
		}, []string{}),

		DeductionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "dca_system_deductions_total",
			Help:      "A counter of successful execution-fee deductions.",
		}, []string{}),

		ExecutionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "dca_system_executions_total",
			Help:      "A counter of swap executions handed off by the keeper.",
		}, []string{}),
	}
}
