// Package metrics provides Prometheus metrics collection for meterlink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for meterlink.
type Collector struct {
	// HTTP API metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Vendor API metrics
	VendorRequests *prometheus.CounterVec
	VendorDuration *prometheus.HistogramVec
	VendorErrors   *prometheus.CounterVec

	// Ingestion metrics
	EventsIngested  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	TxIDsAllocated  *prometheus.CounterVec
	StateSaveErrors prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector on a custom registry. Useful for
// testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterlink",
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "meterlink",
				Name:      "request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "meterlink",
				Name:      "requests_in_flight",
				Help:      "Number of API requests currently being processed",
			},
		),

		VendorRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterlink",
				Name:      "vendor_requests_total",
				Help:      "Total calls to the billing vendor API",
			},
			[]string{"operation", "outcome"},
		),
		VendorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "meterlink",
				Name:      "vendor_request_duration_seconds",
				Help:      "Billing vendor request duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		VendorErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterlink",
				Name:      "vendor_errors_total",
				Help:      "Total billing vendor call failures",
			},
			[]string{"operation"},
		),

		EventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterlink",
				Name:      "events_ingested_total",
				Help:      "Usage events accepted and forwarded to the vendor",
			},
			[]string{"tier"},
		),
		EventsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterlink",
				Name:      "events_rejected_total",
				Help:      "Usage events rejected before forwarding",
			},
			[]string{"reason"},
		),
		TxIDsAllocated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterlink",
				Name:      "txids_allocated_total",
				Help:      "Transaction IDs minted by the allocator",
			},
			[]string{"tier"},
		),
		StateSaveErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterlink",
				Name:      "state_save_errors_total",
				Help:      "Failures persisting the local state document",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterlink",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterlink",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "meterlink",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}
