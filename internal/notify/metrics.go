package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	pathFanOut = "fanout"
	pathDirect = "direct"
)

// Metrics is the Prometheus sink for dispatch outcomes. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	dispatches *prometheus.CounterVec
	recipients prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. It panics on
// duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_notifier_dispatch_total",
			Help: "Push dispatches by entry point and outcome.",
		}, []string{"path", "outcome"}),
		recipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_notifier_fanout_recipients",
			Help:    "Eligible recipients per fan-out.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
	reg.MustRegister(m.dispatches, m.recipients)
	return m
}

// DispatchCount returns the counter for path and outcome ("ok" or "error").
func (m *Metrics) DispatchCount(path, outcome string) prometheus.Counter {
	return m.dispatches.WithLabelValues(path, outcome)
}

func (m *Metrics) dispatched(path string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.dispatches.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) observeRecipients(n int) {
	if m == nil {
		return
	}
	m.recipients.Observe(float64(n))
}
