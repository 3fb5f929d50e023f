package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pool's prometheus instruments, exported on the admin
// server. constructed against an explicit registerer rather than the
// package-global default so tests can hand each pool its own registry.
type Metrics struct {
	// Available tracks |available|: ready containers waiting for a user
	Available prometheus.Gauge

	// InFlightBirths tracks container creations currently executing
	InFlightBirths prometheus.Gauge

	// Births counts containers that reached the available queue
	Births prometheus.Counter

	// BirthFailures counts launches that were unwound before enqueueing
	BirthFailures prometheus.Counter

	// Culls counts containers removed by the heartbeat
	Culls prometheus.Counter

	// Acquires counts successful hand-outs
	Acquires prometheus.Counter

	// EmptyAcquires counts acquires that found the queue empty
	EmptyAcquires prometheus.Counter
}

// NewMetrics registers the pool instruments on the given registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Available: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tmpool_available_containers",
			Help: "Number of ready, unclaimed containers in the pool.",
		}),
		InFlightBirths: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tmpool_inflight_births",
			Help: "Number of container creations currently executing.",
		}),
		Births: factory.NewCounter(prometheus.CounterOpts{
			Name: "tmpool_births_total",
			Help: "Containers that reached the available queue.",
		}),
		BirthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tmpool_birth_failures_total",
			Help: "Container launches unwound before becoming available.",
		}),
		Culls: factory.NewCounter(prometheus.CounterOpts{
			Name: "tmpool_culls_total",
			Help: "Containers removed by the heartbeat.",
		}),
		Acquires: factory.NewCounter(prometheus.CounterOpts{
			Name: "tmpool_acquires_total",
			Help: "Containers handed out to users.",
		}),
		EmptyAcquires: factory.NewCounter(prometheus.CounterOpts{
			Name: "tmpool_empty_acquires_total",
			Help: "Acquire calls that found the pool empty.",
		}),
	}
}
