package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts resolution outcomes. A nil *Metrics records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	duration    prometheus.Histogram
	rejections  *prometheus.CounterVec
}

// NewMetrics registers the session collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "session",
			Name:      "resolutions_total",
			Help:      "Token resolutions by outcome.",
		}, []string{"outcome"}),

		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gatehouse",
			Subsystem: "session",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent decoding a token and looking up its identity.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "session",
			Name:      "rejections_total",
			Help:      "Requests and handshakes rejected by a gate.",
		}, []string{"gate", "reason"}),
	}
}

func (m *Metrics) observeResolution(label string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(label).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) reject(gate, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(gate, reason).Inc()
}
