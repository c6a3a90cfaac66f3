package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RaftIsLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "is_leader",
		Help:      "Whether this node is the leader (1=leader, 0=follower)",
	})

	RaftTerm = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "term",
		Help:      "Current local term",
	})

	RaftPeersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "peers_total",
		Help:      "Number of known peers including self",
	})

	RaftMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "messages_total",
		Help:      "Total peer messages sent/received",
	}, []string{"direction", "type"})

	RaftMessageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "message_errors_total",
		Help:      "Total peer message errors",
	}, []string{"peer"})

	RaftRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "rejected_total",
		Help:      "Protocol messages dropped by validation",
	}, []string{"reason"})

	RaftElectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "elections_total",
		Help:      "Election rounds started by this node",
	})

	RaftLeaderChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "leader_changes_total",
		Help:      "Observed leader changes",
	})

	RaftPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "publish_total",
		Help:      "Publish calls by outcome",
	}, []string{"status"})

	RaftPublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "publish_duration_seconds",
		Help:      "Time from publish to quorum or timeout",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	})

	RaftDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "deletes_total",
		Help:      "Deletes applied as leader",
	})

	RaftBeatFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "beat_failures_total",
		Help:      "Heartbeats that did not reach a peer",
	})

	RaftReconcilePulledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "reconcile_pulled_total",
		Help:      "Datums pulled from the leader during reconciliation",
	})

	RaftReconcileOrphansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "raft",
		Name:      "reconcile_orphans_total",
		Help:      "Local datums removed because the leader digest lacked them",
	})

	StorageKeysTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registrar",
		Subsystem: "storage",
		Name:      "keys_total",
		Help:      "Total keys in storage",
	})

	StorageOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "storage",
		Name:      "operations_total",
		Help:      "Total storage operations",
	}, []string{"operation"})

	StorageDiskErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "storage",
		Name:      "disk_errors_total",
		Help:      "Disk failures by operation",
	}, []string{"operation"})

	StorageWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "registrar",
		Subsystem: "storage",
		Name:      "write_duration_seconds",
		Help:      "Datum file write duration including fsync",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
	})

	StorageSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "storage",
		Name:      "skipped_records_total",
		Help:      "Corrupt datum files skipped on load",
	})

	WALWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "wal",
		Name:      "writes_total",
		Help:      "Total term metadata writes",
	})

	WALWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "registrar",
		Subsystem: "wal",
		Name:      "write_duration_seconds",
		Help:      "Term metadata write duration",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
	})

	NotifierQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registrar",
		Subsystem: "notifier",
		Name:      "queue_depth",
		Help:      "Tasks waiting for dispatch",
	})

	NotifierDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "notifier",
		Name:      "dispatched_total",
		Help:      "Tasks dispatched to listeners",
	}, []string{"action"})

	NotifierCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "notifier",
		Name:      "coalesced_total",
		Help:      "CHANGE tasks dropped because one was already queued",
	})

	NotifierListenerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "notifier",
		Name:      "listener_errors_total",
		Help:      "Listener callbacks that failed or panicked",
	})

	ProxyForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "proxy",
		Name:      "forwarded_total",
		Help:      "Writes forwarded to the leader",
	}, []string{"operation", "status"})

	MembershipRosterSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registrar",
		Subsystem: "membership",
		Name:      "roster_size",
		Help:      "Addresses in the last applied roster",
	})

	MembershipUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "membership",
		Name:      "updates_total",
		Help:      "Roster changes pushed into the peer set",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total peer protocol HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "registrar",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Peer protocol HTTP request duration",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"route", "method"})

	GRPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registrar",
		Subsystem: "grpc",
		Name:      "requests_total",
		Help:      "Total gRPC requests",
	}, []string{"service", "method", "code"})

	GRPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "registrar",
		Subsystem: "grpc",
		Name:      "request_duration_seconds",
		Help:      "gRPC request duration",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"service", "method"})
)
