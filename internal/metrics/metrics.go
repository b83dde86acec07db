package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all gateway metrics
type Metrics struct {
	// Detection job counters
	JobsStarted   atomic.Uint64
	JobsSucceeded atomic.Uint64
	JobsFailed    atomic.Uint64
	ActiveJobs    atomic.Int64
	ImagesServed  atomic.Uint64

	// Webcam relay counters
	WebcamSessions atomic.Uint64
	WebcamRunning  atomic.Uint64 // 0 = idle, 1 = running
	FramesRelayed  atomic.Uint64
	BytesRelayed   atomic.Uint64

	// Last job duration in ms
	JobDurationMs atomic.Uint64

	failures *prometheus.CounterVec
	duration prometheus.Histogram
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_job_failures_total",
			Help: "Detection job failures by error kind",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_job_duration_seconds",
			Help:    "Wall time of detection jobs from spawn to response",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		value,
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.failures, m.duration)

	m.gauge("gateway_jobs_started_total", "Total detection jobs started",
		func() float64 { return float64(m.JobsStarted.Load()) })
	m.gauge("gateway_jobs_succeeded_total", "Total detection jobs that returned images",
		func() float64 { return float64(m.JobsSucceeded.Load()) })
	m.gauge("gateway_jobs_failed_total", "Total detection jobs that failed",
		func() float64 { return float64(m.JobsFailed.Load()) })
	m.gauge("gateway_jobs_active", "Detection jobs currently running",
		func() float64 { return float64(m.ActiveJobs.Load()) })
	m.gauge("gateway_result_images_total", "Total result image URLs returned",
		func() float64 { return float64(m.ImagesServed.Load()) })
	m.gauge("gateway_job_last_duration_ms", "Duration of the most recent detection job in milliseconds",
		func() float64 { return float64(m.JobDurationMs.Load()) })

	m.gauge("gateway_webcam_sessions_total", "Total webcam sessions started",
		func() float64 { return float64(m.WebcamSessions.Load()) })
	m.gauge("gateway_webcam_running", "Webcam detector running (0=idle, 1=running)",
		func() float64 { return float64(m.WebcamRunning.Load()) })
	m.gauge("gateway_webcam_frames_relayed_total", "Total multipart sections written to webcam clients",
		func() float64 { return float64(m.FramesRelayed.Load()) })
	m.gauge("gateway_webcam_bytes_relayed_total", "Total detector stdout bytes relayed to webcam clients",
		func() float64 { return float64(m.BytesRelayed.Load()) })
}

// JobStarted records a job entering the running state.
func (m *Metrics) JobStarted() {
	m.JobsStarted.Add(1)
	m.ActiveJobs.Add(1)
}

// JobFinished records the terminal outcome of a job. kind is empty on success.
func (m *Metrics) JobFinished(kind string, images int, elapsed time.Duration) {
	m.ActiveJobs.Add(-1)
	m.JobDurationMs.Store(uint64(elapsed.Milliseconds()))
	m.duration.Observe(elapsed.Seconds())

	if kind == "" {
		m.JobsSucceeded.Add(1)
		m.ImagesServed.Add(uint64(images))
		return
	}
	m.JobsFailed.Add(1)
	m.failures.WithLabelValues(kind).Inc()
}

// SetWebcamRunning updates the webcam state gauge.
func (m *Metrics) SetWebcamRunning(running bool) {
	if running {
		m.WebcamSessions.Add(1)
		m.WebcamRunning.Store(1)
		return
	}
	m.WebcamRunning.Store(0)
}

// FrameRelayed records one multipart section of n payload bytes.
func (m *Metrics) FrameRelayed(n int) {
	m.FramesRelayed.Add(1)
	m.BytesRelayed.Add(uint64(n))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns the metrics HTTP server bound to addr.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
