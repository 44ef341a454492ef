// metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskchat_turns_total",
		Help: "Total chat turns by outcome",
	}, []string{"outcome"})

	TurnsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deskchat_turns_active",
		Help: "Number of turns currently in flight",
	})

	TurnConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deskchat_turn_conflicts_total",
		Help: "Turn requests refused because another turn was running",
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskchat_llm_requests_total",
		Help: "Total completion requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deskchat_llm_request_duration_seconds",
		Help:    "Completion request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"model"})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskchat_tool_calls_total",
		Help: "Total tool calls by tool and status",
	}, []string{"tool", "status"})

	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deskchat_tool_call_duration_seconds",
		Help:    "Tool call duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	ToolResultsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deskchat_tool_results_dropped_total",
		Help: "Tool results discarded because their call was removed before they finished",
	})

	UIEventErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deskchat_ui_event_errors_total",
		Help: "UI events that could not be delivered",
	})
)
