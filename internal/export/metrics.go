package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the export pipeline.
var (
	// recordsQueued counts records accepted into the export queue.
	recordsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_export_queued_total",
		Help: "Total number of decision records queued for export",
	})

	// recordsExported counts records successfully delivered to the sink.
	recordsExported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_export_delivered_total",
		Help: "Total number of decision records delivered to the SIEM sink",
	})

	// batchFailures counts delivery attempts that failed after adapter
	// retries and were requeued.
	batchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_export_batch_failures_total",
		Help: "Total number of failed batch deliveries (batch requeued)",
	})

	// queueDepth tracks how many records are waiting for delivery. A value
	// that keeps growing means the sink is down or too slow.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audit_export_queue_depth",
		Help: "Number of decision records waiting in the export queue",
	})
)
