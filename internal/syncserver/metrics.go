package syncserver

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jinokyu_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jinokyu_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	messagesUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jinokyu_messages_upserted_total",
			Help: "Total message documents written",
		},
	)

	blobsUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jinokyu_blobs_uploaded_total",
			Help: "Total attachment blobs stored",
		},
	)

	snapshotsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jinokyu_snapshots_sent_total",
			Help: "Total room snapshots pushed to subscribers",
		},
	)

	roomsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jinokyu_rooms_deleted_total",
			Help: "Total room collections wiped",
		},
	)
)

type metricsRecorder struct {
	http.ResponseWriter
	status int
}

func (mr *metricsRecorder) WriteHeader(code int) {
	mr.status = code
	mr.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the wrapper.
func (mr *metricsRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := mr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &metricsRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		path := r.URL.Path
		if ctx := chi.RouteContext(r.Context()); ctx != nil {
			if pattern := ctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, http.StatusText(recorder.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
