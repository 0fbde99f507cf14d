package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture service
type Metrics struct {
	// Datagram metrics
	DatagramsReceived  prometheus.Counter
	SamplesReceived    prometheus.Counter
	MalformedDatagrams prometheus.Counter
	ReceiveErrors      prometheus.Counter

	// Buffer metrics
	BufferedSamples prometheus.Gauge
	DroppedSamples  prometheus.Counter

	// Segment metrics
	SegmentsExtracted prometheus.Counter
	SegmentWait       prometheus.Histogram
	SegmentStalls     prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionFailures prometheus.Counter
	SessionDuration prometheus.Histogram
	CaptureRunning  prometheus.Gauge

	// Storage metrics
	Saves        *prometheus.CounterVec
	SaveErrors   *prometheus.CounterVec
	SaveDuration *prometheus.HistogramVec

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them through promhttp.Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Datagram metrics
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_datagrams_received_total",
			Help: "Total number of UDP datagrams received from the microphone",
		}),
		SamplesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_samples_received_total",
			Help: "Total number of samples appended to the buffer",
		}),
		MalformedDatagrams: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_malformed_datagrams_total",
			Help: "Total number of empty or odd-length datagrams ignored",
		}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_receive_errors_total",
			Help: "Total number of transport errors while receiving",
		}),

		// Buffer metrics
		BufferedSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mic_buffered_samples",
			Help: "Current number of samples waiting in the buffer",
		}),
		DroppedSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_dropped_samples_total",
			Help: "Total number of samples discarded by the drop_oldest overflow policy",
		}),

		// Segment metrics
		SegmentsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_segments_extracted_total",
			Help: "Total number of segments handed to the consumer",
		}),
		SegmentWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mic_segment_wait_seconds",
			Help:    "Time the consumer waited for a full segment",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		SegmentStalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_segment_stalls_total",
			Help: "Total number of segment waits that hit the maximum wait",
		}),

		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_sessions_stopped_total",
			Help: "Total number of capture sessions stopped",
		}),
		SessionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_session_failures_total",
			Help: "Total number of capture sessions that failed to start",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mic_session_duration_seconds",
			Help:    "Duration of capture sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		CaptureRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mic_capture_running",
			Help: "1 while a capture session is running",
		}),

		// Storage metrics
		Saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mic_saves_total",
			Help: "Total number of objects saved",
		}, []string{"kind"}),
		SaveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mic_save_errors_total",
			Help: "Total number of failed saves",
		}, []string{"kind"}),
		SaveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mic_save_duration_seconds",
			Help:    "Duration of save operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"kind"}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mic_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "mic_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mic_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mic_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mic_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagram records one decoded datagram and the samples it carried
func (m *Metrics) RecordDatagram(samples int) {
	m.DatagramsReceived.Inc()
	m.SamplesReceived.Add(float64(samples))
}

// RecordMalformedDatagram records a datagram that carried no usable samples
func (m *Metrics) RecordMalformedDatagram() {
	m.DatagramsReceived.Inc()
	m.MalformedDatagrams.Inc()
}

// RecordReceiveError increments the transport error counter
func (m *Metrics) RecordReceiveError() {
	m.ReceiveErrors.Inc()
}

// SetBufferedSamples sets the current buffer size
func (m *Metrics) SetBufferedSamples(size int) {
	m.BufferedSamples.Set(float64(size))
}

// RecordDroppedSamples adds to the dropped samples counter
func (m *Metrics) RecordDroppedSamples(n uint64) {
	if n > 0 {
		m.DroppedSamples.Add(float64(n))
	}
}

// RecordSegment records an extracted segment and how long the consumer waited for it
func (m *Metrics) RecordSegment(waitSeconds float64) {
	m.SegmentsExtracted.Inc()
	m.SegmentWait.Observe(waitSeconds)
}

// RecordStall increments the stall counter
func (m *Metrics) RecordStall() {
	m.SegmentStalls.Inc()
}

// RecordSessionStarted records a successful session start
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.CaptureRunning.Set(1)
}

// RecordSessionFailed records a session that could not be started
func (m *Metrics) RecordSessionFailed() {
	m.SessionFailures.Inc()
}

// RecordSessionStopped increments the sessions stopped counter and records duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.CaptureRunning.Set(0)
}

// RecordSave records a save of the given kind ("audio" or "text")
func (m *Metrics) RecordSave(kind string, durationSeconds float64, err error) {
	m.SaveDuration.WithLabelValues(kind).Observe(durationSeconds)
	if err != nil {
		m.SaveErrors.WithLabelValues(kind).Inc()
		return
	}
	m.Saves.WithLabelValues(kind).Inc()
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
