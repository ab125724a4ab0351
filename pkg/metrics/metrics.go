package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reasoning (LLM) call latency in milliseconds.
	ReasoningCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reasoning_call_latency_ms",
			Help:    "Reasoning service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"caller", "status"},
	)

	// Messages dropped by the filter, by reason.
	MessagesFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_filtered_total",
			Help: "Messages removed by the message filter",
		},
		[]string{"reason"}, // sent, duplicate, too_short, greeting, status_update
	)

	// TODOs produced by the extraction stage.
	TodosExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todos_extracted_total",
			Help: "TODO items produced from messages",
		},
		[]string{"channel"},
	)

	// Project-tag classification outcomes, by cascade stage.
	TagClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tag_classifications_total",
			Help: "Project tag classification outcomes",
		},
		[]string{"source"}, // cache, explicit, llm, advanced, sender, none
	)

	// Top-3 selections, by mode and cache outcome.
	Top3Selections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "top3_selections_total",
			Help: "Top-3 selection runs",
		},
		[]string{"mode"}, // score, forced, forced_cached, forced_fallback
	)

	// Classification queue consumption latency in milliseconds.
	ClassifyConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classify_consume_latency_ms",
			Help:    "Classification queue message handling latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"queue"},
	)

	// Poller cycles, by result.
	PollerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_runs_total",
			Help: "Background poll cycles",
		},
		[]string{"status"}, // success, failed, empty
	)
)

// RecordReasoningCall records one reasoning service call.
func RecordReasoningCall(caller, status string, duration time.Duration) {
	ReasoningCallLatency.WithLabelValues(caller, status).Observe(float64(duration.Milliseconds()))
}

// RecordClassifyConsume records one classification queue handling duration.
func RecordClassifyConsume(queue string, duration time.Duration) {
	ClassifyConsumeLatency.WithLabelValues(queue).Observe(float64(duration.Milliseconds()))
}
