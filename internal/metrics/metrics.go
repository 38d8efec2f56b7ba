// Package metrics counts what fleetctl did, for scraping through the node
// exporter textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fleetman"

type Metrics struct {
	Registry    *prometheus.Registry
	Operations  *prometheus.CounterVec
	Relocations prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Administrative operations run, by operation and result.",
		}, []string{"operation", "result"}),
		Relocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "primary_relocations_total",
			Help:      "Times an operation moved to a newly elected primary.",
		}),
	}
	m.Registry.MustRegister(m.Operations, m.Relocations)
	return m
}

// ObserveOperation counts one finished operation. Nil receivers are fine.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveRelocation() {
	if m == nil {
		return
	}
	m.Relocations.Inc()
}

// WriteTextfile dumps all metrics in text format, atomically replacing path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
