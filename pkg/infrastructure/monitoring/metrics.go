// Package monitoring exposes crawl counters to Prometheus.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchesTotal counts finished fetch attempts by outcome:
	// success, transient, permanent, retry_hint.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "news_crawler",
		Name:      "fetches_total",
		Help:      "Finished fetch attempts by outcome.",
	}, []string{"outcome"})

	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "news_crawler",
		Name:      "claims_total",
		Help:      "Queue entries claimed by workers.",
	})

	LinksDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "news_crawler",
		Name:      "links_discovered_total",
		Help:      "In-scope links enqueued from fetched pages.",
	})

	MatchedPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "news_crawler",
		Name:      "matched_pages_total",
		Help:      "Pages matching at least one keyword.",
	})

	PendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "news_crawler",
		Name:      "pending_entries",
		Help:      "Queue entries currently pending.",
	})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "news_crawler",
		Name:      "fetch_duration_seconds",
		Help:      "Latency of successful fetches.",
		Buckets:   prometheus.DefBuckets,
	})
)

// StartExporter serves /metrics on addr in a background goroutine.
func StartExporter(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		http.ListenAndServe(addr, mux)
	}()
}
