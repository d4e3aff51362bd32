// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxonomy_classifications_total",
		Help: "Normalized values by category and match status.",
	}, []string{"category", "status"})

	NearMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxonomy_near_misses_total",
		Help: "Novel values within the near-miss distance band.",
	}, []string{"category"})

	Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxonomy_promotions_total",
		Help: "Custom values promoted into the canonical vocabulary.",
	}, []string{"category"})

	EditsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxonomy_edits_applied_total",
		Help: "Metadata edits committed with a provenance event.",
	})

	EditsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxonomy_edits_rejected_total",
		Help: "Metadata edits that were not applied, by reason.",
	}, []string{"reason"})

	ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxonomy_conflict_retries_total",
		Help: "Edit transactions retried after a write conflict.",
	})

	EditDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taxonomy_edit_seconds",
		Help:    "Latency of SubmitMetadataEdit including retries.",
		Buckets: prometheus.DefBuckets,
	})

	GraphBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxonomy_graph_builds_total",
		Help: "Graph reads by outcome (fresh, stale, failed).",
	}, []string{"outcome"})

	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxonomy_graph_nodes",
		Help: "Nodes in the most recently served graph.",
	})

	GraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxonomy_graph_edges",
		Help: "Edges in the most recently served graph.",
	})

	InconsistentPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxonomy_inconsistent_promotions_total",
		Help: "Promotion state inconsistencies found by reconciliation.",
	})

	GraphCacheBreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxonomy_graph_cache_breaker_open",
		Help: "1 while the shared graph cache circuit breaker is open.",
	})
)

// Rejection reasons for EditsRejected.
const (
	ReasonValidation = "validation"
	ReasonConflict   = "conflict"
	ReasonError      = "error"
)
