package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the gateway. A nil *Metrics records nothing.
type Metrics struct {
	active prometheus.Gauge
	frames *prometheus.CounterVec
	closes *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatehouse",
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Authenticated WebSocket sessions currently open.",
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "ws",
			Name:      "frames_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		closes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "ws",
			Name:      "closes_total",
			Help:      "Closed sessions by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) opened() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) closed(reason string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.closes.WithLabelValues(reason).Inc()
}

func (m *Metrics) frame(typ string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(typ).Inc()
}
