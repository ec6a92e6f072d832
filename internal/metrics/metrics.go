// Package metrics exposes Prometheus collectors for the crawler, the
// indexing pipeline, and the read-only API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFetchesTotal         *prometheus.CounterVec
	crawlerBytesTotal           *prometheus.CounterVec
	crawlerPolitenessDelay      prometheus.Histogram
	crawlerStoriesTotal         *prometheus.CounterVec
	crawlerChaptersQueuedTotal  prometheus.Counter
	indexDocumentsTotal         prometheus.Counter
	indexConversionFailureTotal prometheus.Counter
	indexCommitsTotal           *prometheus.CounterVec
	indexActiveWorkers          prometheus.Gauge
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_crawler_fetches_total",
				Help: "Total number of pages fetched, labeled by site, page kind and status.",
			},
			[]string{"site", "kind", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerPolitenessDelay = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archive_crawler_politeness_delay_seconds",
				Help:    "Histogram of politeness pauses taken before each request.",
				Buckets: []float64{0.5, 1, 2, 3, 4, 5, 6, 7, 8, 10},
			},
		)

		crawlerStoriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_crawler_stories_total",
				Help: "Total number of listed stories, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerChaptersQueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archive_crawler_chapters_queued_total",
				Help: "Total number of chapter records handed to the indexing pipeline.",
			},
		)

		indexDocumentsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archive_index_documents_total",
				Help: "Total number of documents added to the index writer.",
			},
		)

		indexConversionFailureTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archive_index_conversion_failures_total",
				Help: "Total number of chapter records dropped because they could not be converted.",
			},
		)

		indexCommitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_index_commits_total",
				Help: "Total number of index batches finished, labeled by result.",
			},
			[]string{"result"},
		)

		indexActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archive_index_active_workers",
				Help: "Number of parser workers currently running.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one fetched page and its size.
func ObserveFetch(site, kind, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, kind, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObservePolitenessDelay records a pause taken before a request.
func ObservePolitenessDelay(d time.Duration) {
	crawlerPolitenessDelay.Observe(d.Seconds())
}

// ObserveStory counts a listed story by outcome (created, existing, restricted, failed).
func ObserveStory(outcome string) {
	crawlerStoriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveChaptersQueued adds n to the queued chapter counter.
func ObserveChaptersQueued(n int) {
	crawlerChaptersQueuedTotal.Add(float64(n))
}

// ObserveDocumentIndexed counts one document handed to the writer.
func ObserveDocumentIndexed() {
	indexDocumentsTotal.Inc()
}

// ObserveConversionFailure counts one dropped chapter record.
func ObserveConversionFailure() {
	indexConversionFailureTotal.Inc()
}

// ObserveCommit counts a finished index batch (committed or rolled_back).
func ObserveCommit(result string) {
	indexCommitsTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active parser workers gauge.
func IncActiveWorkers() {
	indexActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active parser workers gauge.
func DecActiveWorkers() {
	indexActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
