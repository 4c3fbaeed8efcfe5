package manager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics registration happens once per process regardless of how
// many Managers are created, following buildbarn-bb-storage's
// sync.Once-guarded prometheus.MustRegister idiom (seen in its local
// block allocator) rather than each Manager registering its own
// collector set and panicking on the second one.
var metricsOnce sync.Once

var (
	backendsRegistered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shm",
			Subsystem: "manager",
			Name:      "backends_registered",
			Help:      "Number of backends currently registered with a manager.",
		},
		[]string{"manager"},
	)
	allocatorsRegistered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shm",
			Subsystem: "manager",
			Name:      "allocators_registered",
			Help:      "Number of allocators currently registered with a manager.",
		},
		[]string{"manager"},
	)
)

func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(backendsRegistered, allocatorsRegistered)
	})
}

// ReportMetrics publishes m's current registry sizes under label,
// distinguishing multiple Managers in one process (most commonly
// "default"). Call it periodically (e.g. from a debug/metrics HTTP
// handler); it does not start a background goroutine of its own.
func ReportMetrics(m *Manager, label string) {
	registerMetrics()
	backendsRegistered.WithLabelValues(label).Set(float64(m.backends.Len()))
	allocatorsRegistered.WithLabelValues(label).Set(float64(m.allocators.Len()))
}
