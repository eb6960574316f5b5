// Package metrics holds the Prometheus collectors for the ingestion pipeline. They
// live on a private registry exposed by the web API at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nlverkeer"

var (
	Registry = prometheus.NewRegistry()

	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_total",
		Help:      "Snapshot refresh attempts per source and outcome",
	}, []string{"source", "outcome"})

	RefreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_duration_seconds",
		Help:      "Time spent fetching and parsing a source",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
	}, []string{"source"})

	Responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_responses_total",
		Help:      "Snapshots handed out, by state (fresh, refreshed, stale, failed)",
	}, []string{"state"})

	SnapshotEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_events",
		Help:      "Number of events in the current snapshot",
	})

	SnapshotTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_fetched_timestamp_seconds",
		Help:      "Unix time the current snapshot was fetched",
	})

	EnrichmentFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_failures_total",
		Help:      "Swallowed enrichment failures per step",
	}, []string{"step"})

	EnrichmentMatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_matches_total",
		Help:      "Jam events that had an external post attached",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RefreshTotal,
		RefreshDuration,
		Responses,
		SnapshotEvents,
		SnapshotTimestamp,
		EnrichmentFailures,
		EnrichmentMatches,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
