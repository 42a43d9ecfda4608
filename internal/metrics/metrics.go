// Package metrics exports scheduler activity as Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/testsched/internal/domain/booking"
	"github.com/example/testsched/internal/scheduler"
)

const namespace = "testsched"

type Metrics struct {
	passes       *prometheus.CounterVec
	bookings     prometheus.Counter
	passDuration prometheus.Histogram
	nextPass     prometheus.Gauge
}

var _ scheduler.Observer = (*Metrics)(nil)

// New registers the collectors on reg, or on the default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Polling passes by outcome (empty, booked, failed, canceled).",
		}, []string{"outcome"}),
		bookings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Appointments booked.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one polling pass.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		nextPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_pass_delay_seconds",
			Help:      "Delay chosen before the next pass.",
		}),
	}
	reg.MustRegister(m.passes, m.bookings, m.passDuration, m.nextPass)
	return m
}

func (m *Metrics) PassFinished(outcome string, d time.Duration) {
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(d.Seconds())
}

func (m *Metrics) Booked(booking.Appointment) { m.bookings.Inc() }

func (m *Metrics) NextPassIn(d time.Duration) { m.nextPass.Set(d.Seconds()) }
