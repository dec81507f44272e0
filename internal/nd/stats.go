package nd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// stats holds ND traffic counters and table gauges.
type stats struct {
	received   *prometheus.CounterVec
	sent       *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	neighbours prometheus.Gauge
	routers    prometheus.Gauge
	prefixes   prometheus.Gauge
}

func newStats(reg prometheus.Registerer) (*stats, error) {
	m := &stats{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ndisc",
			Subsystem: "nd",
			Name:      "received_total",
			Help:      "Number of received ND messages by ICMPv6 type.",
		}, []string{"type"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ndisc",
			Subsystem: "nd",
			Name:      "sent_total",
			Help:      "Number of sent ND messages by ICMPv6 type, flushed data packets as \"data\".",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ndisc",
			Subsystem: "nd",
			Name:      "dropped_total",
			Help:      "Number of dropped packets by reason.",
		}, []string{"reason"}),
		neighbours: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ndisc",
			Name:      "neighbours",
			Help:      "Number of neighbour cache entries in use.",
		}),
		routers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ndisc",
			Name:      "routers",
			Help:      "Number of default router list entries.",
		}),
		prefixes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ndisc",
			Name:      "prefixes",
			Help:      "Number of on-link prefix list entries.",
		}),
	}

	collectors := []prometheus.Collector{
		m.received,
		m.sent,
		m.dropped,
		m.neighbours,
		m.routers,
		m.prefixes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *stats) Received(typ string) {
	m.received.WithLabelValues(typ).Inc()
}

func (m *stats) Sent(typ string) {
	m.sent.WithLabelValues(typ).Inc()
}

func (m *stats) Dropped(reason DropReason) {
	m.dropped.WithLabelValues(string(reason)).Inc()
}
