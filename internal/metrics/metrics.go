// Package metrics exposes prometheus collectors for update sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tbloader"

// Metrics holds the session, step, and serial number collectors.
type Metrics struct {
	sessions         *prometheus.CounterVec
	active           prometheus.Gauge
	corrupted        prometheus.Counter
	reformats        *prometheus.CounterVec
	sessionSeconds   *prometheus.HistogramVec
	stepSeconds      *prometheus.HistogramVec
	stepFiles        *prometheus.CounterVec
	stepBytes        *prometheus.CounterVec
	serialsIssued    prometheus.Counter
	serialsAvailable prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Update and collection sessions by device generation and outcome.",
		}, []string{"version", "outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently running.",
		}),
		corrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupted_devices_total",
			Help:      "Sessions whose disk check reported corruption.",
		}),
		reformats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reformats_total",
			Help:      "Reformat attempts by outcome.",
		}, []string{"outcome"}),
		sessionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of a whole session.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"version"}),
		stepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one update step.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"step"}),
		stepFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_files_total",
			Help:      "Files touched by update steps.",
		}, []string{"step"}),
		stepBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_bytes_total",
			Help:      "Bytes copied by update steps.",
		}, []string{"step"}),
		serialsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serials_issued_total",
			Help:      "Serial numbers handed out by the allocator.",
		}),
		serialsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "serials_available",
			Help:      "Serial numbers left in the reserved blocks.",
		}),
	}
	reg.MustRegister(m.sessions, m.active, m.corrupted, m.reformats, m.sessionSeconds,
		m.stepSeconds, m.stepFiles, m.stepBytes, m.serialsIssued, m.serialsAvailable)
	return m
}

// SessionStarted marks a session as running.
func (m *Metrics) SessionStarted(version string) {
	m.active.Inc()
}

// SessionFinished records the outcome of a session started with SessionStarted.
func (m *Metrics) SessionFinished(version string, success, corrupted bool, reformat string, elapsed time.Duration) {
	m.active.Dec()
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	m.sessions.WithLabelValues(version, outcome).Inc()
	if corrupted {
		m.corrupted.Inc()
	}
	if reformat != "" && reformat != "no-attempt" {
		m.reformats.WithLabelValues(reformat).Inc()
	}
	m.sessionSeconds.WithLabelValues(version).Observe(elapsed.Seconds())
}

// ObserveStep records one finished step.
func (m *Metrics) ObserveStep(step string, elapsed time.Duration, files int, bytes int64) {
	m.stepSeconds.WithLabelValues(step).Observe(elapsed.Seconds())
	if files > 0 {
		m.stepFiles.WithLabelValues(step).Add(float64(files))
	}
	if bytes > 0 {
		m.stepBytes.WithLabelValues(step).Add(float64(bytes))
	}
}

// SerialIssued counts an allocated serial number and updates the remaining count.
func (m *Metrics) SerialIssued(available int) {
	m.serialsIssued.Inc()
	m.serialsAvailable.Set(float64(available))
}
