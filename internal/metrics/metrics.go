// Package metrics holds the Prometheus collectors shared across services.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clouddeploy"

// HistogramBuckets are the latency buckets used for HTTP handlers.
var HistogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Register registers c with reg and returns the collector that ended up
// registered, reusing an existing one when the same descriptor is already
// present (tests and restarts construct collectors more than once).
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// Simulator collects deployment lifecycle metrics.
type Simulator struct {
	Transitions *prometheus.CounterVec
	InFlight    prometheus.Gauge
}

// NewSimulator builds and registers the simulator collectors.
func NewSimulator(reg prometheus.Registerer) *Simulator {
	return &Simulator{
		Transitions: Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "transitions_total",
			Help:      "Deployment status transitions persisted, by target status",
		}, []string{"status"})),
		InFlight: Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "runs_in_flight",
			Help:      "Simulator runs currently executing",
		})),
	}
}

// Maintenance collects periodic housekeeping metrics.
type Maintenance struct {
	StuckDeployments prometheus.Gauge
	PurgedTokens     prometheus.Counter
}

// NewMaintenance builds and registers the maintenance collectors.
func NewMaintenance(reg prometheus.Registerer) *Maintenance {
	return &Maintenance{
		StuckDeployments: Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "stuck_deployments",
			Help:      "Unfinished deployments older than the stuck threshold",
		})),
		PurgedTokens: Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "purged_refresh_tokens_total",
			Help:      "Expired refresh tokens deleted",
		})),
	}
}

// HTTP collects request metrics for the API router.
type HTTP struct {
	Requests      *prometheus.CounterVec
	Latency       *prometheus.HistogramVec
	RateLimitHits *prometheus.CounterVec
}

// NewHTTP builds and registers the HTTP collectors.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	return &HTTP{
		Requests: Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})),
		Latency: Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   HistogramBuckets,
		}, []string{"method", "route", "status"})),
		RateLimitHits: Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"})),
	}
}
