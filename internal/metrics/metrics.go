package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "logstreams"

var (
	SequencerWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "writes_total",
			Help:      "Sequencer write attempts by result.",
		},
		[]string{"partition", "result"},
	)
	SequencerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "queue_depth",
			Help:      "Batches waiting to be drained by the appender.",
		},
		[]string{"partition"},
	)
	AppenderBatchBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "batch_bytes",
			Help:      "Bytes handed to storage per append.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"partition"},
	)
	AppenderBatchEntries = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "batch_entries",
			Help:      "Entries handed to storage per append.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"partition"},
	)
	AppenderInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "in_flight",
			Help:      "Appends written but not yet committed.",
		},
		[]string{"partition"},
	)
	AppendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "append_latency_ms",
			Help:      "Latency from storage append to commit in milliseconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"partition"},
	)
	CommitPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "commit_position",
			Help:      "Highest committed position per partition.",
		},
		[]string{"partition"},
	)
	StorageCommitLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "commit_latency_ms",
			Help:      "Pebble batch commit latency in milliseconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"partition"},
	)
	StorageBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_total",
			Help:      "Bytes written to or read from Pebble.",
		},
		[]string{"partition", "op"},
	)
	StreamHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "health",
			Help:      "Log stream health (0 healthy, 1 unhealthy, 2 dead).",
		},
		[]string{"partition"},
	)
	ExportedEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "entries_total",
			Help:      "Entries published to Kafka.",
		},
		[]string{"partition", "topic"},
	)
	ExportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "errors_total",
			Help:      "Exporter failures by stage.",
		},
		[]string{"partition", "stage"},
	)
)

func init() {
	prometheus.MustRegister(
		SequencerWrites,
		SequencerQueueDepth,
		AppenderBatchBytes,
		AppenderBatchEntries,
		AppenderInFlight,
		AppendLatency,
		CommitPosition,
		StorageCommitLatency,
		StorageBytes,
		StreamHealth,
		ExportedEntries,
		ExportErrors,
	)
}

// Partition formats a partition id as a label value.
func Partition(p int) string { return strconv.Itoa(p) }
