package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are package-level and registered once on the default registry;
// the observe server exposes them via promhttp.
var (
	StoreEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rexwa",
			Subsystem: "store",
			Name:      "entities",
			Help:      "Current number of cached records per entity kind.",
		},
		[]string{"kind"},
	)

	StoreEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rexwa",
			Subsystem: "store",
			Name:      "evictions_total",
			Help:      "Records evicted by cleanup passes, per entity kind.",
		},
		[]string{"kind"},
	)

	StoreCleanupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rexwa",
			Subsystem: "store",
			Name:      "cleanups_total",
			Help:      "Cleanup passes executed, per tier (regular|aggressive|chat).",
		},
		[]string{"tier"},
	)

	SnapshotOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rexwa",
			Subsystem: "store",
			Name:      "snapshot_ops_total",
			Help:      "Snapshot save/load attempts, per op and result.",
		},
		[]string{"op", "result"},
	)

	SessionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rexwa",
			Subsystem: "sessions",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a free execution slot.",
		},
	)

	SessionRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rexwa",
			Subsystem: "sessions",
			Name:      "running",
			Help:      "Jobs currently holding an execution slot.",
		},
	)

	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rexwa",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Live per-actor sessions (running or idle).",
		},
	)

	SessionTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rexwa",
			Subsystem: "sessions",
			Name:      "timeouts_total",
			Help:      "Jobs that exceeded the execution timeout.",
		},
	)

	SessionJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rexwa",
			Subsystem: "sessions",
			Name:      "job_duration_seconds",
			Help:      "Job execution latency from start to outcome, excluding queue wait.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
