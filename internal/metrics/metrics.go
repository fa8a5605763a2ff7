// Package metrics holds the Prometheus collectors shared by the api and
// worker binaries. A nil *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hostelhub"

// Collectors groups every metric the service exports.
type Collectors struct {
	marks         *prometheus.CounterVec
	extractTime   *prometheus.HistogramVec
	modelReady    prometheus.Gauge
	statsCache    *prometheus.CounterVec
	eventsHandled *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_marks_total",
			Help:      "Attendance mark attempts by outcome.",
		}, []string{"outcome"}),
		extractTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "face_extract_seconds",
			Help:      "Time spent preprocessing and detecting a face.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"result"}),
		modelReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "face_model_ready",
			Help:      "1 when the face model finished loading.",
		}),
		statsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_cache_requests_total",
			Help:      "Monthly statistics cache lookups by result.",
		}, []string{"result"}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_events_total",
			Help:      "Queue events handled by the worker.",
		}, []string{"type"}),
	}
	reg.MustRegister(c.marks, c.extractTime, c.modelReady, c.statsCache, c.eventsHandled)
	return c
}

// MarkOutcome counts one mark attempt. outcome is "accepted", a rejection
// reason, or "error".
func (c *Collectors) MarkOutcome(outcome string) {
	if c == nil {
		return
	}
	c.marks.WithLabelValues(outcome).Inc()
}

// ObserveExtract records the duration of one extraction.
func (c *Collectors) ObserveExtract(d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.extractTime.WithLabelValues(result).Observe(d.Seconds())
}

// SetModelReady flips the readiness gauge.
func (c *Collectors) SetModelReady(ready bool) {
	if c == nil {
		return
	}
	if ready {
		c.modelReady.Set(1)
		return
	}
	c.modelReady.Set(0)
}

// CacheLookup counts a stats cache hit or miss.
func (c *Collectors) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.statsCache.WithLabelValues("hit").Inc()
		return
	}
	c.statsCache.WithLabelValues("miss").Inc()
}

// EventHandled counts one worker event.
func (c *Collectors) EventHandled(eventType string) {
	if c == nil {
		return
	}
	c.eventsHandled.WithLabelValues(eventType).Inc()
}
