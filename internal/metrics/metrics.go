package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_updates_total",
			Help: "Inbound chat updates by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	nearbyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nearby_query_duration_seconds",
			Help:    "Proximity query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	cachedGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_groups",
			Help: "Number of authorized groups in the snapshot",
		},
	)

	cachedMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_active_members",
			Help: "Number of members active today in the snapshot",
		},
	)
)

func init() {
	Registry.MustRegister(reqTotal, reqDuration, updatesTotal, nearbyDuration, cachedGroups, cachedMembers)
}

// CacheStats provides current snapshot sizes.
// Implemented by internal/cache StateCache.
type CacheStats interface {
	GroupCount() int
	ActiveMemberCount() int
}

// ObserveUpdate counts an inbound update by kind (message, callback) and
// outcome (ok, error, ignored, dropped_stale, dropped_duplicate)
func ObserveUpdate(kind, outcome string) {
	updatesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveNearbyDuration records how long a proximity query took
func ObserveNearbyDuration(d time.Duration) {
	nearbyDuration.Observe(d.Seconds())
}

// UpdateCacheGauges refreshes the snapshot-size gauges
func UpdateCacheGauges(stats CacheStats) {
	if stats == nil {
		return
	}
	cachedGroups.Set(float64(stats.GroupCount()))
	cachedMembers.Set(float64(stats.ActiveMemberCount()))
}

// Middleware instruments HTTP requests on a route
func Middleware(route string, next http.Handler, stats CacheStats) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rw, r)

		dur := time.Since(start).Seconds()
		reqDuration.WithLabelValues(r.Method, route).Observe(dur)
		reqTotal.WithLabelValues(r.Method, route, http.StatusText(rw.status)).Inc()

		// Update snapshot gauges opportunistically
		UpdateCacheGauges(stats)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Handler returns a promhttp handler for the Registry
func Handler() http.Handler { return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}) }
