package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the local API and shell proxy.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Shell proxy latency rises when revalidation blocks on network.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Fetcher decisions per request class. Watch for: source=cache_fallback growth (network outage).
	WorkerFetchTotal *prometheus.CounterVec

	// Best-effort cache writes. result=error never fails a response but means offline copies are stale.
	WorkerCacheWritesTotal *prometheus.CounterVec

	// Install attempts (all-or-nothing shell seeding).
	WorkerInstallTotal *prometheus.CounterVec

	// Partitions removed on activate (previous versions).
	WorkerPartitionsDroppedTotal prometheus.Counter

	// Stale-while-revalidate refreshes that ran in the background.
	WorkerRevalidationsTotal *prometheus.CounterVec

	// Open-Meteo call rate per endpoint (search, reverse, forecast, current).
	ProviderCallsTotal *prometheus.CounterVec

	// Open-Meteo latency per endpoint. Includes cache fallbacks served by the fetcher.
	ProviderDuration *prometheus.HistogramVec

	// Retry attempts for provider calls.
	ProviderRetriesTotal *prometheus.CounterVec

	// Synchronizer operations by kind and outcome (success, error, cancelled, skipped).
	SyncOperationsTotal *prometheus.CounterVec

	// Current number of stored favorites.
	FavoritesCount prometheus.Gauge

	// Favorite prefetch runs.
	CacheWarmingTotal prometheus.Counter

	// Favorite prefetch runs with at least one failure.
	CacheWarmingErrorsTotal prometheus.Counter

	// Duration of a favorite prefetch run.
	CacheWarmingDurationSeconds prometheus.Histogram

	// Rate limit denials on /api.
	RateLimitDeniedTotal prometheus.Counter

	connectivityGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WorkerFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerFetchTotal",
			Help: "Intercepted fetches by request class and response source",
		},
		[]string{"class", "source"},
	)
	WorkerCacheWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerCacheWritesTotal",
			Help: "Cache partition writes by partition and result",
		},
		[]string{"partition", "result"},
	)
	WorkerInstallTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerInstallTotal",
			Help: "Worker install attempts by result",
		},
		[]string{"result"},
	)
	WorkerPartitionsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workerPartitionsDroppedTotal",
			Help: "Cache partitions deleted on activate",
		},
	)
	WorkerRevalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerRevalidationsTotal",
			Help: "Background stale-while-revalidate refreshes by result",
		},
		[]string{"result"},
	)
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"endpoint", "status"},
	)
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts for Open-Meteo calls",
		},
		[]string{"endpoint"},
	)
	SyncOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncOperationsTotal",
			Help: "Synchronizer operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	FavoritesCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "favoritesCount",
			Help: "Number of stored favorite locations",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Favorite forecast prefetch runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Favorite forecast prefetch runs with failures",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Favorite forecast prefetch duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WorkerFetchTotal, WorkerCacheWritesTotal, WorkerInstallTotal,
		WorkerPartitionsDroppedTotal, WorkerRevalidationsTotal,
		ProviderCallsTotal, ProviderDuration, ProviderRetriesTotal,
		SyncOperationsTotal, FavoritesCount,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		RateLimitDeniedTotal,
	)
}

// RegisterConnectivityGauges registers network failure and fallback gauges backed by
// the fetcher's tracker. Only the first call registers.
func RegisterConnectivityGauges(tracker *traffic.Tracker, window time.Duration) {
	connectivityGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "networkFailuresInWindow",
					Help: "Failed upstream attempts in sliding window",
				},
				func() float64 {
					failures, _ := tracker.FailureRate(window)
					return float64(failures)
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "cacheFallbacksInWindow",
					Help: "Responses served from cache after a network failure, in sliding window",
				},
				func() float64 { return float64(tracker.FallbackCount(window)) },
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
