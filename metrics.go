package crmauth

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

var _ ActivitySink = &MetricsSink{}

// MetricsSink counts session events with prometheus
type MetricsSink struct {
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetricsSink registers the session collectors on reg. A nil reg uses
// the default registerer.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &MetricsSink{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crm",
				Subsystem: "session",
				Name:      "events_total",
				Help:      "Session events by type.",
			},
			[]string{"event"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crm",
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Session state transitions.",
			},
			[]string{"from", "to"},
		),
	}

	for _, c := range []prometheus.Collector{s.events, s.transitions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Record implements ActivitySink.
func (s *MetricsSink) Record(_ context.Context, event ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType)).Inc()
	if event.From != event.To {
		s.transitions.WithLabelValues(event.From.String(), event.To.String()).Inc()
	}
	return nil
}
