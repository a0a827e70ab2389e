package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the recording pipeline.
// All methods tolerate a nil receiver so components can run unmetered in tests.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal        prometheus.Counter
	httpErrorsTotal      prometheus.Counter
	segmentsEncodedTotal *prometheus.CounterVec
	encodeErrorsTotal    *prometheus.CounterVec
	uploadsTotal         *prometheus.CounterVec
	bytesUploadedTotal   prometheus.Counter
	playlistRefreshTotal prometheus.Counter
	evictedTotal         prometheus.Counter
	activeSessions       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the recorder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamcap_requests_total",
		Help: "Total number of HTTP requests received",
	})
	httpErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamcap_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	segmentsEncodedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcap_segments_encoded_total",
		Help: "Total number of segments produced by the encoders",
	}, []string{"kind"})
	encodeErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcap_encode_errors_total",
		Help: "Total number of per-segment encode failures",
	}, []string{"kind"})
	uploadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcap_uploads_total",
		Help: "Total number of storage uploads by result",
	}, []string{"result"})
	bytesUploadedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamcap_bytes_uploaded_total",
		Help: "Total bytes successfully uploaded to storage",
	})
	playlistRefreshTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamcap_playlist_refreshes_total",
		Help: "Total number of periodic playlist refresh cycles",
	})
	evictedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamcap_evicted_segments_total",
		Help: "Total number of entries evicted from playlist windows",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamcap_active_sessions",
		Help: "Number of sessions currently recording or paused",
	})

	registry.MustRegister(
		requestsTotal,
		httpErrorsTotal,
		segmentsEncodedTotal,
		encodeErrorsTotal,
		uploadsTotal,
		bytesUploadedTotal,
		playlistRefreshTotal,
		evictedTotal,
		activeSessions,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		httpErrorsTotal:      httpErrorsTotal,
		segmentsEncodedTotal: segmentsEncodedTotal,
		encodeErrorsTotal:    encodeErrorsTotal,
		uploadsTotal:         uploadsTotal,
		bytesUploadedTotal:   bytesUploadedTotal,
		playlistRefreshTotal: playlistRefreshTotal,
		evictedTotal:         evictedTotal,
		activeSessions:       activeSessions,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncHTTPErrors increments the HTTP error counter.
func (m *Metrics) IncHTTPErrors() {
	if m != nil {
		m.httpErrorsTotal.Inc()
	}
}

// IncSegmentsEncoded counts one completed segment of the given kind
// ("audio" or "video").
func (m *Metrics) IncSegmentsEncoded(kind string) {
	if m != nil {
		m.segmentsEncodedTotal.WithLabelValues(kind).Inc()
	}
}

// IncEncodeErrors counts one dropped segment of the given kind.
func (m *Metrics) IncEncodeErrors(kind string) {
	if m != nil {
		m.encodeErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// IncUploads counts one upload with the given result
// ("ok", "timeout", or "error").
func (m *Metrics) IncUploads(result string) {
	if m != nil {
		m.uploadsTotal.WithLabelValues(result).Inc()
	}
}

// AddBytesUploaded accumulates successfully uploaded bytes.
func (m *Metrics) AddBytesUploaded(n int) {
	if m != nil {
		m.bytesUploadedTotal.Add(float64(n))
	}
}

// IncPlaylistRefreshes counts one refresh cycle.
func (m *Metrics) IncPlaylistRefreshes() {
	if m != nil {
		m.playlistRefreshTotal.Inc()
	}
}

// AddEvicted counts entries evicted from a playlist window.
func (m *Metrics) AddEvicted(n int) {
	if m != nil {
		m.evictedTotal.Add(float64(n))
	}
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
