package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ask4rent_backend_requests_total",
		Help: "Total backend requests by endpoint",
	}, []string{"endpoint"})
	BackendFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ask4rent_backend_fail_total",
		Help: "Total backend failures by endpoint and kind (transport, status, session, decode)",
	}, []string{"endpoint", "kind"})
	BackendDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ask4rent_backend_duration_ms",
		Help:    "Backend call duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	}, []string{"endpoint"})
	SessionCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ask4rent_session_created_total",
		Help: "Total sessions created against the session service",
	})
	SessionRenewTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ask4rent_session_renew_total",
		Help: "Session renewals by result (ok, fail)",
	}, []string{"result"})
	SessionExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ask4rent_session_expired_total",
		Help: "Sessions found silently expired by the periodic sweep",
	})
	SessionRestoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ask4rent_session_restored_total",
		Help: "Sessions restored from the persistent store within TTL",
	})
	SearchTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ask4rent_search_transitions_total",
		Help: "Search mode transitions by target mode",
	}, []string{"mode"})
	SearchStaleResponsesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ask4rent_search_stale_responses_total",
		Help: "Backend responses dropped because a newer transition superseded them",
	})
	SearchEmptyResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ask4rent_search_empty_results_total",
		Help: "Transitions completed with a legitimately empty result set",
	}, []string{"mode"})
	PlacesCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ask4rent_places_cache_hits_total",
		Help: "Place search cache hits",
	})
	PlacesCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ask4rent_places_cache_misses_total",
		Help: "Place search cache misses",
	})
)

func init() {
	prometheus.MustRegister(BackendRequestsTotal)
	prometheus.MustRegister(BackendFailTotal)
	prometheus.MustRegister(BackendDurationMs)
	prometheus.MustRegister(SessionCreatedTotal)
	prometheus.MustRegister(SessionRenewTotal)
	prometheus.MustRegister(SessionExpiredTotal)
	prometheus.MustRegister(SessionRestoredTotal)
	prometheus.MustRegister(SearchTransitionsTotal)
	prometheus.MustRegister(SearchStaleResponsesTotal)
	prometheus.MustRegister(SearchEmptyResultsTotal)
	prometheus.MustRegister(PlacesCacheHitsTotal)
	prometheus.MustRegister(PlacesCacheMissesTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：嵌入方可自行挂载；探针进程在配置 METRICS_ADDR 时暴露到 /metrics
func Handler() http.Handler { return promhttp.Handler() }
