// Package metrics exposes Prometheus collectors for admission controllers.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbound request outcomes recorded by the transport middleware.
const (
	OutcomeSent        = "sent"
	OutcomeNotAdmitted = "not_admitted"
	OutcomeThrottled   = "throttled"
	OutcomeFailed      = "failed"
)

type Metrics struct {
	Admitted         *prometheus.CounterVec
	QueueTimeouts    *prometheus.CounterVec
	Wait             *prometheus.HistogramVec
	Interval         *prometheus.GaugeVec
	IntervalChanges  *prometheus.CounterVec
	OutboundRequests *prometheus.CounterVec
}

// NewMetrics creates the admission collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_admitted_total",
			Help: "Number of callers admitted through the gate.",
		}, []string{"controller"}),
		QueueTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_queue_timeouts_total",
			Help: "Number of callers that gave up waiting for admission.",
		}, []string{"controller"}),
		Wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admission_wait_seconds",
			Help:    "Time spent in the gate before admission.",
			Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"controller"}),
		Interval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "admission_interval_seconds",
			Help: "Current sliding-window length.",
		}, []string{"controller"}),
		IntervalChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_interval_changes_total",
			Help: "Number of interval changes by direction.",
		}, []string{"controller", "direction"}),
		OutboundRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_outbound_requests_total",
			Help: "Outbound requests paced by the transport, by outcome.",
		}, []string{"controller", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Admitted, m.QueueTimeouts, m.Wait, m.Interval, m.IntervalChanges, m.OutboundRequests)
	}
	return m
}

func (m *Metrics) RecordAdmission(controller string, waited time.Duration) {
	if m == nil {
		return
	}
	m.Admitted.WithLabelValues(controller).Inc()
	m.Wait.WithLabelValues(controller).Observe(waited.Seconds())
}

func (m *Metrics) RecordQueueTimeout(controller string) {
	if m == nil {
		return
	}
	m.QueueTimeouts.WithLabelValues(controller).Inc()
}

// RecordInterval sets the interval gauge. direction is "up", "down" or "" for a plain update.
func (m *Metrics) RecordInterval(controller string, interval time.Duration, direction string) {
	if m == nil {
		return
	}
	m.Interval.WithLabelValues(controller).Set(interval.Seconds())
	if direction != "" {
		m.IntervalChanges.WithLabelValues(controller, direction).Inc()
	}
}

func (m *Metrics) RecordRequest(controller, outcome string) {
	if m == nil {
		return
	}
	m.OutboundRequests.WithLabelValues(controller, outcome).Inc()
}
