package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// notificationsTotal counts webhook notifications by outcome.
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_notifications_total",
			Help: "Push notifications handled, by outcome.",
		},
		[]string{"outcome"},
	)

	// filterDecisions counts filter results by deciding stage.
	filterDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_filter_decisions_total",
			Help: "Reply filter decisions, by stage.",
		},
		[]string{"stage"},
	)

	// jobOutcomes counts job processing results by resulting status.
	jobOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_job_outcomes_total",
			Help: "Reply job processing outcomes, by status.",
		},
		[]string{"status"},
	)

	// generationPaths counts produced replies by generation path.
	generationPaths = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_generation_total",
			Help: "Generated replies, by path (ai or template).",
		},
		[]string{"path"},
	)

	// tickDuration observes scheduler tick latency.
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autoreply_scheduler_tick_seconds",
			Help:    "Duration of scheduler ticks in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(notificationsTotal, filterDecisions, jobOutcomes, generationPaths, tickDuration)
}
