// Package metrics exposes Prometheus instrumentation for the client core.
// The collectors are registered on the default registry; serving them is the
// caller's choice (see the watch command's --metrics-addr flag).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repowiki_connection_state",
			Help: "Whether the WebSocket connection is open (1=open, 0=closed)",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repowiki_reconnects_total",
			Help: "Total number of automatic reconnect attempts",
		},
	)

	HeartbeatTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repowiki_heartbeat_timeouts_total",
			Help: "Total number of connections declared dead by heartbeat",
		},
	)

	// Message metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repowiki_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)

	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repowiki_duplicates_dropped_total",
			Help: "Total number of inbound messages dropped as duplicates",
		},
	)

	MalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repowiki_malformed_frames_total",
			Help: "Total number of inbound frames dropped as unparsable",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repowiki_outbound_queue_depth",
			Help: "Current number of messages queued while disconnected",
		},
	)

	QueueDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repowiki_outbound_queue_drops_total",
			Help: "Total number of queued messages dropped by the capacity bound",
		},
	)

	// Task metrics
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repowiki_tasks_total",
			Help: "Total number of tracked tasks reaching a terminal status",
		},
		[]string{"type", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repowiki_task_duration_seconds",
			Help:    "Tracked task duration from start to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"type"},
	)

	// Journal metrics
	JournalDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repowiki_journal_drops_total",
			Help: "Total number of journal entries dropped by the writer backlog",
		},
	)
)
