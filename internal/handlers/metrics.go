package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tts_gateway_requests_total",
			Help: "Total number of synthesis requests",
		},
		[]string{"key_id", "voice", "status"},
	)

	synthDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tts_gateway_synthesis_duration_seconds",
			Help:    "Synthesis request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"key_id", "voice"},
	)

	audioBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tts_gateway_audio_bytes_total",
			Help: "Total audio bytes returned to callers",
		},
		[]string{"key_id"},
	)

	upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tts_gateway_upstream_errors_total",
			Help: "Total number of upstream TTS errors",
		},
		[]string{"kind"},
	)

	cachedVoices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tts_gateway_cached_voices",
		Help: "Number of voices in the current catalog snapshot",
	})
)

func init() {
	for _, c := range []prometheus.Collector{requestsTotal, synthDuration, audioBytesTotal, upstreamErrors, cachedVoices} {
		if err := prometheus.Register(c); err != nil {
			log.Printf("[METRICS] Failed to register collector: %v", err)
		}
	}
}

// RecordSynthesis updates the per-request metrics after a forwarded call.
func RecordSynthesis(keyID, voice, status string, audioBytes int, durationSecs float64) {
	requestsTotal.WithLabelValues(keyID, voice, status).Inc()
	synthDuration.WithLabelValues(keyID, voice).Observe(durationSecs)
	if audioBytes > 0 {
		audioBytesTotal.WithLabelValues(keyID).Add(float64(audioBytes))
	}
}

func RecordUpstreamError(kind string) {
	upstreamErrors.WithLabelValues(kind).Inc()
}

func SetCachedVoices(n int) {
	cachedVoices.Set(float64(n))
}

// MetricsHandler serves /metrics behind basic auth.
type MetricsHandler struct {
	username    string
	password    string
	promHandler http.Handler
}

func NewMetricsHandler(username, password string) *MetricsHandler {
	return &MetricsHandler{
		username:    username,
		password:    password,
		promHandler: promhttp.Handler(),
	}
}

func (h *MetricsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/metrics", h.ServeHTTP)
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok || username != h.username || password != h.password {
		w.Header().Set("WWW-Authenticate", `Basic realm="Prometheus Metrics"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.promHandler.ServeHTTP(w, r)
}
