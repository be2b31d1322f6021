// Package telemetry exposes prometheus metrics for the entity runtime.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	entityInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_entity_invocations_total",
			Help: "Entity operations executed, by result.",
		},
		[]string{"result"},
	)

	entitiesResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tessera_entities_resident",
			Help: "Entities currently activated in memory.",
		},
	)

	persistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_persist_failures_total",
			Help: "Entity state writes rejected by the store.",
		},
	)

	lockDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_lock_denials_total",
			Help: "Lock acquisitions denied because another owner holds the key.",
		},
	)
)

// Register installs the runtime collectors in the default registry. Safe to
// call from multiple packages; registration happens once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(entityInvocations, entitiesResident, persistFailures, lockDenials)
	})
}

// ObserveInvocation records a completed entity operation.
func ObserveInvocation(result string) {
	entityInvocations.WithLabelValues(result).Inc()
}

// SetResidentEntities records the number of activated entities.
func SetResidentEntities(n int) {
	entitiesResident.Set(float64(n))
}

// ObservePersistFailure records a rejected state write.
func ObservePersistFailure() {
	persistFailures.Inc()
}

// ObserveLockDenial records a denied lock acquisition.
func ObserveLockDenial() {
	lockDenials.Inc()
}
