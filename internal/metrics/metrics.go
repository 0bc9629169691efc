// Package metrics exposes Prometheus collectors for the monitor service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal         *prometheus.CounterVec
	cycleDuration       *prometheus.HistogramVec
	notificationsTotal  *prometheus.CounterVec
	browserInitFailures prometheus.Counter
	stateEntries        prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_checks_total",
				Help: "Product checks performed, labeled by cohort and result.",
			},
			[]string{"cohort", "result"},
		)

		cycleDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_cycle_duration_seconds",
				Help:    "Duration of one cohort check cycle.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"cohort"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_notifications_total",
				Help: "Notifications delivered, labeled by kind and channel.",
			},
			[]string{"kind", "channel"},
		)

		browserInitFailures = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_browser_init_failures_total",
				Help: "Failed browser session initializations.",
			},
		)

		stateEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_state_entries",
				Help: "Number of product keys tracked in the monitor state.",
			},
		)
	})
}

// CheckCompleted records the outcome of one product check.
func CheckCompleted(cohort, result string) {
	if checksTotal == nil {
		return
	}
	checksTotal.WithLabelValues(cohort, result).Inc()
}

// CycleObserved records the duration of one cohort cycle.
func CycleObserved(cohort string, d time.Duration) {
	if cycleDuration == nil {
		return
	}
	cycleDuration.WithLabelValues(cohort).Observe(d.Seconds())
}

// NotificationSent records one delivered notification.
func NotificationSent(kind, channel string) {
	if notificationsTotal == nil {
		return
	}
	notificationsTotal.WithLabelValues(kind, channel).Inc()
}

// BrowserInitFailure records one failed session launch.
func BrowserInitFailure() {
	if browserInitFailures == nil {
		return
	}
	browserInitFailures.Inc()
}

// SetStateEntries tracks the size of the state map.
func SetStateEntries(n int) {
	if stateEntries == nil {
		return
	}
	stateEntries.Set(float64(n))
}
