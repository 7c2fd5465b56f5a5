// Package metrics exposes Prometheus instrumentation for the scheduler,
// pollers, and callback aggregator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TicksTotal counts state machine ticks by outcome.
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relo_ticks_total",
			Help: "State machine ticks by outcome (advanced, idle, gated, completed, error)",
		},
		[]string{"outcome"},
	)

	// TickDuration observes the wall time of a single tick.
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relo_tick_duration_seconds",
			Help:    "Tick duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// TasksTotal counts task transitions by type and resulting status.
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relo_tasks_total",
			Help: "Task transitions by task type and resulting status",
		},
		[]string{"task_type", "status"},
	)

	// BuildPollsTotal counts poller observations by poller kind and transition.
	BuildPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relo_build_polls_total",
			Help: "Build poll observations by poller (pending, running) and transition",
		},
		[]string{"poller", "transition"},
	)

	// CallbacksTotal counts aggregator invocations by aggregate result.
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relo_callbacks_total",
			Help: "Callback aggregations by aggregate build status",
		},
		[]string{"result"},
	)

	// ActiveRunners tracks the number of live release runners.
	ActiveRunners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relo_active_runners",
			Help: "Number of release runner goroutines currently alive",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TickDuration,
		TasksTotal,
		BuildPollsTotal,
		CallbacksTotal,
		ActiveRunners,
	)
}
