// Package metrics collects and exposes Prometheus metrics for the
// reservation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the slice of metrics the service and search engine emit.
type Recorder interface {
	CountReservation(event string)
	CountPaymentFailure(op string)
	CountRadiusEscalation()
	ObserveSearchLatency(d time.Duration)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	reservations     *prometheus.CounterVec
	paymentFailures  *prometheus.CounterVec
	radiusEscalation prometheus.Counter
	searchLatency    prometheus.Histogram
}

// NewCollector registers the engine metrics on reg and returns the collector.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaccine_booking_reservations_total",
			Help: "Reservation lifecycle transitions by event.",
		}, []string{"event"}),
		paymentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaccine_booking_payment_failures_total",
			Help: "Payment gateway failures by operation.",
		}, []string{"op"}),
		radiusEscalation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaccine_booking_radius_escalations_total",
			Help: "Searches that widened to the maximum radius.",
		}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaccine_booking_search_latency_seconds",
			Help:    "Slot search latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(c.reservations, c.paymentFailures, c.radiusEscalation, c.searchLatency)
	return c
}

func (c *Collector) CountReservation(event string) {
	c.reservations.WithLabelValues(event).Inc()
}

func (c *Collector) CountPaymentFailure(op string) {
	c.paymentFailures.WithLabelValues(op).Inc()
}

func (c *Collector) CountRadiusEscalation() {
	c.radiusEscalation.Inc()
}

func (c *Collector) ObserveSearchLatency(d time.Duration) {
	c.searchLatency.Observe(d.Seconds())
}

// Handler serves the registry, including Go runtime and process collectors.
func Handler(reg *prometheus.Registry) http.Handler {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Nop discards every metric. Used in tests and lightweight binaries.
type Nop struct{}

func (Nop) CountReservation(string)              {}
func (Nop) CountPaymentFailure(string)           {}
func (Nop) CountRadiusEscalation()               {}
func (Nop) ObserveSearchLatency(time.Duration)   {}
