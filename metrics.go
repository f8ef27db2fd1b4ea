package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// lookupMetrics counts engine lookups by operation and outcome.
type lookupMetrics struct {
	lookups *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newLookupMetrics(reg prometheus.Registerer) *lookupMetrics {
	m := &lookupMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swathgeo",
			Name:      "lookups_total",
			Help:      "Geolocation lookups by operation and result.",
		}, []string{"operation", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swathgeo",
			Name:      "lookup_duration_seconds",
			Help:      "Time spent in a single geolocation lookup.",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}, []string{"operation"}),
	}
	reg.MustRegister(m.lookups, m.latency)
	return m
}

func (m *lookupMetrics) observe(operation string, start time.Time, found bool) {
	result := "found"
	if !found {
		result = "not_found"
	}
	m.lookups.WithLabelValues(operation, result).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
