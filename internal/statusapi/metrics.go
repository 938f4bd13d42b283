// Package statusapi exposes the agent's ambient operational surface:
// liveness, Prometheus metrics, and a small JSON status snapshot. None
// of this is strategy behavior — it is the machine-readable counterpart
// to the "operator reads last_reqid from the log" story.
//
// Grounded on the teacher's internal/api (HTTP server shape, timeouts,
// logger wiring) with the dashboard's SSE hub and multi-market snapshot
// feed dropped, and on chidi150c-coinbase's metrics.go for the
// Prometheus collector set — generalized from package-level
// init()-registered globals into an explicitly-constructed, registry-owning
// Metrics struct so a second instance in tests doesn't collide on the
// default registry.
package statusapi

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the full set of counters and gauges the agent exposes.
type Metrics struct {
	registry *prometheus.Registry

	RequestsSent   *prometheus.CounterVec
	RejectsByReason *prometheus.CounterVec
	Position        prometheus.Gauge
	FloodAvailable  prometheus.Gauge
}

// NewMetrics builds and registers every collector against its own
// registry (not the global default one, so nothing leaks across tests or
// multiple agent instances in the same process).
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "derivquoter_requests_sent_total",
				Help: "Outbound trading requests sent, by type.",
			},
			[]string{"type"},
		),
		RejectsByReason: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "derivquoter_rejects_total",
				Help: "Inbound rejects received, by reason code.",
			},
			[]string{"reason"},
		),
		Position: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "derivquoter_position",
				Help: "Current signed position in the configured instrument.",
			},
		),
		FloodAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "derivquoter_flood_available",
				Help: "Remaining sends admitted by the flood tracker in the current window.",
			},
		),
	}

	registry.MustRegister(m.RequestsSent, m.RejectsByReason, m.Position, m.FloodAvailable)
	return m
}
