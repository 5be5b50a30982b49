package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnssacq_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gnssacq_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	acquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnssacq_acquisitions_total",
			Help: "Completed acquisition attempts by outcome.",
		},
		[]string{"system", "signal", "outcome"},
	)

	dwellsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnssacq_dwells_total",
			Help: "Coherent integration dwells evaluated.",
		},
		[]string{"system"},
	)

	acquisitionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gnssacq_acquisition_duration_seconds",
			Help:    "Wall-clock time from start to verdict.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	detectionStatistic = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gnssacq_detection_statistic",
			Help:    "Normalized peak-to-noise statistic per dwell.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	channelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gnssacq_channels_active",
			Help: "Channels with an acquisition attempt in flight.",
		},
	)

	assistEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gnssacq_assist_entries",
			Help: "Signals with an assistance hint.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnssacq_stream_connections_total",
			Help: "Verdict stream connect and disconnect events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gnssacq_streams_active",
			Help: "Open verdict streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gnssacq_stream_messages_total",
			Help: "Messages written to verdict streams.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gnssacq_stream_bytes_total",
			Help: "Bytes written to verdict streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnssacq_stream_errors_total",
			Help: "Verdict stream errors by reason.",
		},
		[]string{"reason"},
	)

	assistRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnssacq_assist_refresh_total",
			Help: "Assistance refresh cycles by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(acquisitionsTotal)
	prometheus.MustRegister(dwellsTotal)
	prometheus.MustRegister(acquisitionDuration)
	prometheus.MustRegister(detectionStatistic)
	prometheus.MustRegister(channelsActive)
	prometheus.MustRegister(assistEntries)
	prometheus.MustRegister(assistRefreshTotal)
	prometheus.MustRegister(streamConnectionsTotal)
	prometheus.MustRegister(streamsActive)
	prometheus.MustRegister(streamMessagesTotal)
	prometheus.MustRegister(streamBytesTotal)
	prometheus.MustRegister(streamErrorsTotal)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDwell records one evaluated dwell.
func ObserveDwell(system string, statistic float64) {
	dwellsTotal.WithLabelValues(system).Inc()
	detectionStatistic.Observe(statistic)
}

// ObserveAcquisition records a completed attempt.
func ObserveAcquisition(system, signal, outcome string, elapsed time.Duration) {
	acquisitionsTotal.WithLabelValues(system, signal, outcome).Inc()
	acquisitionDuration.Observe(elapsed.Seconds())
}

// ChannelStarted and ChannelFinished track in-flight attempts.
func ChannelStarted()  { channelsActive.Inc() }
func ChannelFinished() { channelsActive.Dec() }

// SetAssistEntries sets the number of stored hints.
func SetAssistEntries(n int) {
	assistEntries.Set(float64(n))
}

// IncAssistRefresh counts one refresh cycle ("ok" or "error").
func IncAssistRefresh(result string) {
	assistRefreshTotal.WithLabelValues(result).Inc()
}

// IncStreamConnections counts a stream "connect" or "disconnect".
func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

var knownRoutes = map[string]bool{
	"/":                       true,
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/v1/channels":        true,
	"/api/v1/stream/verdicts": true,
}

// normalizeRoute maps a request path onto a bounded label set so scanners
// and per-channel paths do not create unbounded series.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/channels/"); ok {
		id, action, _ := strings.Cut(rest, "/")
		if _, err := strconv.Atoi(id); err != nil {
			return "other"
		}
		switch action {
		case "":
			return "/api/v1/channels/{id}"
		case "restart":
			return "/api/v1/channels/{id}/restart"
		}
		return "other"
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/assist/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/v1/assist/{signal}"
	}
	return "other"
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
