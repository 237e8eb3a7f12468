// Package metrics exposes the engine's Prometheus instrumentation
// (S3), grounded on the teacher pack's package-level promauto
// registration and Handler()/RegisterHandlers() shape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sde_ticks_total",
		Help: "Total number of SectorTicker ticks run, across all sectors",
	})

	DiscussionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sde_discussions_started_total",
		Help: "Total number of discussions started",
	})

	DiscussionsDecidedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sde_discussions_decided_total",
		Help: "Total number of discussions that reached DECIDED, by close reason",
	}, []string{"reason"})

	ChecklistItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sde_checklist_items_total",
		Help: "Total number of checklist items reaching a terminal status",
	}, []string{"status"})

	ExecutionLogsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sde_execution_logs_total",
		Help: "Total number of execution log entries emitted, by action",
	}, []string{"action"})

	WatchdogForceClosesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sde_watchdog_force_closes_total",
		Help: "Total number of discussions force-closed by the watchdog",
	})

	SectorsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sde_sectors_active",
		Help: "Number of sectors currently running a ticker",
	})

	AgentsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sde_agents_active",
		Help: "Number of agents currently in the store",
	})
)

// RecordDiscussionDecided increments DiscussionsDecidedTotal, normalizing
// an empty closeReason to "completed".
func RecordDiscussionDecided(reason string) {
	if reason == "" {
		reason = "completed"
	}
	DiscussionsDecidedTotal.WithLabelValues(reason).Inc()
}

// Handler returns the Prometheus exposition HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
