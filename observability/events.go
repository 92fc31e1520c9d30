package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"p2pescrow/core/events"
)

// EventMetrics counts committed escrow events. It is an events.Emitter so it
// can sit in the engine's fanout next to the recorder.
type EventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking committed escrow events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = newEventMetrics()
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

func newEventMetrics() *EventMetrics {
	return &EventMetrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Count of committed escrow events segmented by type.",
		}, []string{"type"}),
	}
}

// Emit implements events.Emitter.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	kind := strings.TrimSpace(evt.EventType())
	if kind == "" {
		kind = "unknown"
	}
	m.emitted.WithLabelValues(kind).Inc()
}
