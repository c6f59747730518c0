package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed tracks the total throughput of the relay
	// Labels allow filtering by status (sent/error), receiver facility and event category
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_processed_total",
		Help: "Total number of outbox events processed by the relay service",
	}, []string{"status", "receiver", "category"})

	// BatchDuration measures how long it takes to process an entire batch
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_duration_seconds",
		Help:    "Duration of batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks the number of events actually captured in each batch
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_size",
		Help:    "Number of events processed per batch",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// RabbitMQReconnections counts how many times a service had to restore the broker link
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// HealthStatus provides a binary 0/1 signal for the broker link
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_healthy",
		Help: "Current health status of the relay (1 for healthy, 0 for unhealthy)",
	})

	// DLQSize tracks outbox rows that reached maximum attempts
	DLQSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_dlq_size",
		Help: "Current number of outbox events moved to dead status",
	})

	// ReplayDuration tracks the latency of applying a received event, by final state
	ReplayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replay_duration_seconds",
		Help:    "Time taken to replay an event from reception to commit",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"state", "type"}) // state: committed, failed, skipped

	// ReplayErrors counts persisted error records by error type
	ReplayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_errors_total",
		Help: "Number of replay failures recorded as error records",
	}, []string{"error_type"})

	// NotificationFailures counts swallowed notification side-effect failures
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_notification_failures_total",
		Help: "Best-effort notification hooks that failed after a committed replay",
	})

	// SinkRetries tracks how many times the sinker retried because of lock contention
	SinkRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_lock_retries_total",
		Help: "Number of internal retries triggered by lock conflicts while sinking",
	}, []string{"table"})

	// SinkRows counts applied raw row changes
	SinkRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_rows_total",
		Help: "Number of master-data rows applied by the sinker",
	}, []string{"table", "operation"}) // operation: upsert, delete

	// CDCRecords counts row changes seen by the CDC listener
	CDCRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_records_total",
		Help: "Row change records received by the master-data emitter",
	}, []string{"status"}) // status: accepted, ignored

	// SnapshotEvictions counts master-data snapshot cache evictions
	SnapshotEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdc_snapshot_evictions_total",
		Help: "Times all cached master-data snapshots were evicted",
	})
)
