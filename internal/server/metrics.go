package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycloud_http_requests_total",
			Help: "HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mycloud_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycloud_uploaded_bytes_total",
		Help: "Bytes accepted by successful uploads.",
	})

	downloadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycloud_downloaded_bytes_total",
		Help: "Bytes served by downloads.",
	})
)

// RegisterBlobDeleteFailures exposes a monotonically increasing failure
// count read from failures at scrape time.
func RegisterBlobDeleteFailures(reg prometheus.Registerer, failures func() int64) error {
	return reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "mycloud_blob_delete_failures_total",
		Help: "Content deletions that failed after the file metadata was removed.",
	}, func() float64 {
		return float64(failures())
	}))
}

// withMetrics records request counts and latency labelled by route pattern,
// which keeps label cardinality bounded.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
