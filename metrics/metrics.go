// Package metrics exposes the Prometheus counters/gauges the recording
// pipeline and its HTTP surface update, following the teacher pack's
// promauto registration idiom.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SegmentsDownloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liverecorder_segments_downloaded_total",
		Help: "HLS media segments successfully downloaded.",
	}, []string{"platform"})

	SegmentDownloadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liverecorder_segment_download_failures_total",
		Help: "HLS media segment downloads that exhausted their retry budget.",
	}, []string{"platform"})

	ChatEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liverecorder_chat_events_total",
		Help: "Chat/danmaku messages parsed from a platform's live feed.",
	}, []string{"platform"})

	ActiveRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "liverecorder_active_rooms",
		Help: "Rooms currently registered, labeled by whether they are recording.",
	}, []string{"platform", "recording"})

	RecorderRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liverecorder_recorder_restarts_total",
		Help: "Danmaku client restarts performed by the room controller's one-retry policy.",
	}, []string{"platform"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liverecorder_http_request_duration_seconds",
		Help:    "HTTP request latency for the HLS/API server.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records per-request latency and status, labeled by the
// chi route pattern so high-cardinality paths (live_id, file name) don't
// blow up the label set.
func HTTPMiddleware(routePattern func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			httpRequestDuration.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(sw.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}
