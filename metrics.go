package openapitools

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invocation outcomes used as the "outcome" label.
const (
	OutcomeSuccess          = "success"
	OutcomeInvalidArguments = "invalid_arguments"
	OutcomeHTTPError        = "http_error"
	OutcomeTransportError   = "transport_error"
	OutcomeDecodeError      = "decode_error"
)

// Metrics holds the prometheus collectors for tool invocations. A nil
// *Metrics records nothing.
type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "openapitools",
				Name:      "invocations_total",
				Help:      "Total number of tool invocations",
			},
			[]string{"tool", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "openapitools",
				Name:      "invocation_duration_seconds",
				Help:      "Tool invocation duration in seconds, including the downstream HTTP call",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}
}

func (m *Metrics) observe(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(tool, outcome).Inc()
	m.duration.WithLabelValues(tool).Observe(elapsed.Seconds())
}
