// Package metrics defines the Prometheus instruments shared by the
// controller and the executor. Everything is registered on the default
// registry and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinela_messages_consumed_total",
		Help: "Messages consumed from the work queue, by kind.",
	}, []string{"kind"})

	MessagesErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinela_messages_errors_total",
		Help: "Messages whose handler returned an error, by kind.",
	}, []string{"kind"})

	MessagesProcessing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinela_messages_processing",
		Help: "Messages currently being handled by executor workers.",
	})

	MonitorsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_monitors_processed_total",
		Help: "Monitor executions completed, successfully or not.",
	})

	MonitorExecutionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinela_monitor_execution_errors_total",
		Help: "Monitor executions that failed, by error type.",
	}, []string{"error_type"})

	MonitorExecutionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_monitor_execution_timeouts_total",
		Help: "Monitor executions cancelled by the execution timeout.",
	})

	MonitorsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinela_monitors_running",
		Help: "Monitors currently executing.",
	})

	MonitorExecutionSeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name:       "sentinela_monitor_execution_seconds",
		Help:       "Wall time of monitor executions.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	MonitorsNotRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_monitors_not_registered_total",
		Help: "Monitor messages received for monitors this process has no definition for.",
	})

	SearchLimitReached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_search_limit_reached_total",
		Help: "Search results truncated by the issue creation limit.",
	})

	ReactionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_reaction_errors_total",
		Help: "Reactions that returned an error.",
	})

	ReactionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_reaction_timeouts_total",
		Help: "Reactions cancelled by the reaction timeout.",
	})

	TaskQueueErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_task_queue_errors_total",
		Help: "Failures to enqueue work on the queue.",
	})
)
