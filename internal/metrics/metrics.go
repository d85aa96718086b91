// Package metrics exposes the filesystem's status surface as Prometheus
// collectors: queue depth and drop counts from the recorder/queue, and
// apply/retry/dead-letter counts from the applier. This is the
// SPEC_FULL.md "status surface" decision answering what spec.md leaves
// unspecified about observability.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector this package registers, so callers can
// wire them into a single prometheus.Registerer at startup.
type Registry struct {
	QueueDepth       prometheus.Gauge
	QueueDropped     prometheus.Counter
	OpcodesRecorded  prometheus.Counter
	PatchesApplied   prometheus.Counter
	ApplierRetries   prometheus.Counter
	ApplierDeadLetter prometheus.Counter
}

// NewRegistry creates the collectors without registering them anywhere.
func NewRegistry() *Registry {
	return &Registry{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ize",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of opcodes buffered in the recorder queue.",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ize",
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Opcodes dropped because the queue was full.",
		}),
		OpcodesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ize",
			Subsystem: "recorder",
			Name:      "opcodes_total",
			Help:      "Opcodes successfully enqueued by the recorder.",
		}),
		PatchesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ize",
			Subsystem: "applier",
			Name:      "patches_applied_total",
			Help:      "Opcodes the applier successfully committed as patches.",
		}),
		ApplierRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ize",
			Subsystem: "applier",
			Name:      "retries_total",
			Help:      "Transient apply failures that were retried.",
		}),
		ApplierDeadLetter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ize",
			Subsystem: "applier",
			Name:      "dead_letter_total",
			Help:      "Opcodes given up on and moved to the dead-letter buffer.",
		}),
	}
}

// MustRegister registers every collector in r against reg, panicking on a
// duplicate registration (mirrors prometheus.MustRegister's own contract).
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.QueueDepth,
		r.QueueDropped,
		r.OpcodesRecorded,
		r.PatchesApplied,
		r.ApplierRetries,
		r.ApplierDeadLetter,
	)
}
