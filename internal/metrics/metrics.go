// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raid_alert_fetches_total",
		Help: "Alert source reads by result (fetched, cached, failed).",
	}, []string{"result"})

	AlertFetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raid_alert_fetch_retries_total",
		Help: "Retried upstream alert requests.",
	})

	ActiveAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raid_active_alerts",
		Help: "Active alert records in the latest snapshot.",
	})

	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raid_cycles_total",
		Help: "Poll cycles by task and result.",
	}, []string{"task", "result"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raid_cycle_duration_seconds",
		Help:    "Wall time of a poll cycle.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raid_transitions_total",
		Help: "Detected state transitions by watch and event.",
	}, []string{"watch", "event"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raid_deliveries_total",
		Help: "Notification deliveries by outcome.",
	}, []string{"result"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raid_subscribers",
		Help: "Subscribers evaluated in the latest cycle.",
	})
)
