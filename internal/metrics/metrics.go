// Package metrics provides Prometheus metrics for the archive core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "lifearch"
)

// Archive state metrics.
var (
	// DocumentsTotal is the number of documents tracked in the archive.
	DocumentsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "documents_total",
		Help:      "Total number of documents tracked in the archive",
	})

	// ChunksIndexed counts chunks written to the vector store.
	ChunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_indexed_total",
		Help:      "Total number of chunks indexed into the vector store",
	})

	// VaultBytesStored counts bytes written into the vault.
	VaultBytesStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vault_bytes_stored_total",
		Help:      "Total bytes stored into the content-addressed vault",
	})
)

// Ingestion metrics.
var (
	// IngestDuration observes end-to-end ingestion latency.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "End-to-end ingestion pipeline latency",
		Buckets:   prometheus.DefBuckets,
	})

	// IngestFailures counts failed ingestions by stage.
	IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_failures_total",
		Help:      "Failed ingestions by pipeline stage",
	}, []string{"stage"})

	// IngestDuplicates counts imports short-circuited by dedup.
	IngestDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_duplicates_total",
		Help:      "Imports short-circuited by content-hash dedup",
	})
)

// Queue and worker metrics.
var (
	// QueueDepth is the number of tasks waiting in the enrichment queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Tasks waiting in the enrichment work queue",
	})

	// TasksCompleted counts enrichment tasks by outcome.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_completed_total",
		Help:      "Enrichment tasks by terminal outcome",
	}, []string{"type", "outcome"})
)

// Watcher metrics.
var (
	// WatchedFolders is the number of configured watch folders.
	WatchedFolders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watched_folders",
		Help:      "Number of configured watch folders",
	})

	// WatcherEvents counts filesystem events by disposition.
	WatcherEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watcher_events_total",
		Help:      "Filesystem events by disposition (ingested, skipped, failed)",
	}, []string{"disposition"})
)

// Search metrics.
var (
	// SearchDuration observes search latency by mode.
	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Search latency by mode",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	// QueriesAnswered counts Q&A invocations by method.
	QueriesAnswered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_answered_total",
		Help:      "Question answering invocations by synthesis method",
	}, []string{"method"})
)

// Event bus metrics.
var (
	// EventsDropped counts events dropped due to full subscriber buffers.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped due to full subscriber buffers",
	}, []string{"event_type"})
)
