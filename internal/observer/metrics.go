package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for consumer-side event metrics
	eventLabels = []string{"event_type"}
	// Labels for per-channel pipeline metrics
	channelLabels = []string{"channel"}

	// Consumer event counters
	eventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_events_received_total",
			Help: "Total number of webhook events received from NATS.",
		},
		eventLabels,
	)
	eventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_events_processed_total",
			Help: "Total number of webhook events successfully processed and acknowledged.",
		},
		eventLabels,
	)
	eventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_events_failed_total",
			Help: "Total number of webhook events that failed processing (resulting in NAK or redelivery).",
		},
		eventLabels,
	)
	eventsDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_events_dead_lettered_total",
			Help: "Total number of webhook events routed to the dead-letter subject.",
		},
		eventLabels,
	)
	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_events_dropped_total",
			Help: "Total number of canonical events dropped as unprocessable after normalization.",
		},
		channelLabels,
	)

	eventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_messaging_event_processing_duration_seconds",
			Help:    "Histogram of end-to-end webhook event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventLabels,
	)
)

// Webhook edge metrics
var (
	webhooksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_webhooks_received_total",
			Help: "Total number of webhook deliveries accepted and handed off to the broker.",
		},
		channelLabels,
	)
	webhooksRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_webhooks_rejected_total",
			Help: "Total number of webhook deliveries rejected for a bad or missing signature.",
		},
		channelLabels,
	)
	webhooksLostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_webhooks_lost_total",
			Help: "Total number of webhook deliveries acknowledged to the provider but not published to the broker.",
		},
		channelLabels,
	)
)

// Inbound admission metrics
var (
	inboundAdmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_inbound_admitted_total",
			Help: "Total number of inbound messages persisted for the first time.",
		},
		channelLabels,
	)
	inboundDuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_inbound_duplicates_total",
			Help: "Total number of inbound deliveries suppressed by the provider-message-id constraint.",
		},
		channelLabels,
	)
	contactsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_contacts_created_total",
			Help: "Total number of contacts auto-created during inbound admission.",
		},
		channelLabels,
	)
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_jobs_enqueued_total",
			Help: "Total number of outbound reply jobs enqueued.",
		},
		channelLabels,
	)
)

// Runner and sender metrics
var (
	runnerBatchClaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_messaging_runner_jobs_claimed_total",
		Help: "Total number of jobs claimed by runner batches.",
	})
	runnerBatchFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_messaging_runner_jobs_batch_failed_total",
		Help: "Total number of claimed jobs that finished a batch in failure.",
	})
	runnerBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_messaging_runner_batch_size",
		Help:    "Histogram of claimed batch sizes per runner pass.",
		Buckets: prometheus.LinearBuckets(0, 5, 11), // 0 to 50 jobs
	})

	jobsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_jobs_skipped_total",
			Help: "Total number of jobs completed without a send, labeled by skip reason.",
		},
		[]string{"reason"},
	)
	jobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal status.",
		},
		[]string{"status"},
	)
	jobsRetriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_messaging_jobs_retried_total",
		Help: "Total number of jobs requeued with backoff after a retryable failure.",
	})

	sendsPerformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_sends_performed_total",
			Help: "Total number of outbound messages delivered to a provider.",
		},
		channelLabels,
	)
	sendsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messaging_sends_suppressed_total",
			Help: "Total number of sends suppressed by the dedupe-key ledger.",
		},
		channelLabels,
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "status"}

	databaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_messaging_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// InitMetrics toggles metric collection. Call during application startup.
// Collectors are registered via promauto either way; disabling only stops
// the helpers from recording.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType string) {
	if !metricsEnabled {
		return
	}
	eventsReceivedTotal.WithLabelValues(sanitizeLabel(eventType)).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType string) {
	if !metricsEnabled {
		return
	}
	eventsProcessedTotal.WithLabelValues(sanitizeLabel(eventType)).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType string) {
	if !metricsEnabled {
		return
	}
	eventsFailedTotal.WithLabelValues(sanitizeLabel(eventType)).Inc()
}

// IncEventsDeadLettered increments the dead-letter counter.
func IncEventsDeadLettered(eventType string) {
	if !metricsEnabled {
		return
	}
	eventsDeadLetteredTotal.WithLabelValues(sanitizeLabel(eventType)).Inc()
}

// IncEventsDropped increments the counter for canonical events dropped at the handler.
func IncEventsDropped(channel string) {
	if !metricsEnabled {
		return
	}
	eventsDroppedTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// ObserveEventProcessingDuration records the consumer-side processing time for an event.
func ObserveEventProcessingDuration(eventType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	eventProcessingDurationSeconds.WithLabelValues(sanitizeLabel(eventType)).Observe(duration.Seconds())
}

// IncWebhooksReceived increments the accepted webhook counter.
func IncWebhooksReceived(channel string) {
	if !metricsEnabled {
		return
	}
	webhooksReceivedTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// IncWebhooksRejected increments the rejected webhook counter.
func IncWebhooksRejected(channel string) {
	if !metricsEnabled {
		return
	}
	webhooksRejectedTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// IncWebhooksLost increments the counter for deliveries acknowledged but not handed off.
func IncWebhooksLost(channel string) {
	if !metricsEnabled {
		return
	}
	webhooksLostTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// IncInboundAdmitted increments the first-delivery admission counter.
func IncInboundAdmitted(channel string) {
	if !metricsEnabled {
		return
	}
	inboundAdmittedTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// IncInboundDuplicates increments the duplicate-delivery counter.
func IncInboundDuplicates(channel string) {
	if !metricsEnabled {
		return
	}
	inboundDuplicatesTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// IncContactsCreated increments the auto-created contact counter.
func IncContactsCreated(channel string) {
	if !metricsEnabled {
		return
	}
	contactsCreatedTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// IncJobsEnqueued increments the enqueued job counter.
func IncJobsEnqueued(channel string) {
	if !metricsEnabled {
		return
	}
	jobsEnqueuedTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// ObserveRunnerBatch records the outcome of one runner pass.
func ObserveRunnerBatch(claimed, failed int) {
	if !metricsEnabled {
		return
	}
	runnerBatchClaimedTotal.Add(float64(claimed))
	runnerBatchFailedTotal.Add(float64(failed))
	runnerBatchSize.Observe(float64(claimed))
}

// IncJobsSkipped increments the skip counter for a benign no-send completion.
func IncJobsSkipped(reason string) {
	if !metricsEnabled {
		return
	}
	jobsSkippedTotal.WithLabelValues(sanitizeLabel(reason)).Inc()
}

// IncJobsCompleted increments the terminal-status counter.
func IncJobsCompleted(status string) {
	if !metricsEnabled {
		return
	}
	jobsCompletedTotal.WithLabelValues(sanitizeLabel(status)).Inc()
}

// IncJobsRetried increments the requeue counter.
func IncJobsRetried() {
	if !metricsEnabled {
		return
	}
	jobsRetriedTotal.Inc()
}

// IncSendsPerformed increments the provider delivery counter.
func IncSendsPerformed(channel string) {
	if !metricsEnabled {
		return
	}
	sendsPerformedTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// IncSendsSuppressed increments the ledger suppression counter.
func IncSendsSuppressed(channel string) {
	if !metricsEnabled {
		return
	}
	sendsSuppressedTotal.WithLabelValues(sanitizeLabel(channel)).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	databaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

// sanitizeLabel ensures a label value is valid or returns a default.
func sanitizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
