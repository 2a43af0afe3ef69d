package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000, 30000}

var (
	FetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "osmroute_fetches_total",
		Help: "Total number of requests to the feature source by kind and result",
	}, []string{"kind", "result"})
	FetchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "osmroute_fetch_duration_ms",
		Help:    "Feature source request duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"kind"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "osmroute_cache_hits_total",
		Help: "Total feature cache hits",
	}, []string{"kind"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "osmroute_cache_misses_total",
		Help: "Total feature cache misses",
	}, []string{"kind"})
	CachedFeatures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "osmroute_cached_features",
		Help: "Number of features held by the feature cache",
	}, []string{"type"})
	SearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "osmroute_searches_total",
		Help: "Total route searches by final state",
	}, []string{"state"})
	SearchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "osmroute_search_duration_ms",
		Help:    "Route search duration in milliseconds",
		Buckets: durationBuckets,
	})
	SearchExpansions = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "osmroute_search_expansions",
		Help:    "Number of expanded points per route search",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(FetchesTotal)
	prometheus.MustRegister(FetchDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CachedFeatures)
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(SearchDurationMs)
	prometheus.MustRegister(SearchExpansions)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
