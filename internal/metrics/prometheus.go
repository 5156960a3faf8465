package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the call recorder
type Metrics struct {
	// Signal ingest metrics
	PacketsReceived  *prometheus.CounterVec
	PacketsProcessed prometheus.Counter
	ParseErrors      *prometheus.CounterVec
	QueueSize        prometheus.Gauge
	CallEvents       *prometheus.CounterVec

	// Capture metrics
	ActiveCaptures    prometheus.Gauge
	CapturesStarted   *prometheus.CounterVec
	CaptureFailures   *prometheus.CounterVec
	RecordingsSaved   prometheus.Counter
	RecordingDuration prometheus.Histogram

	// Storage operation metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	SweepDeleted      prometheus.Counter

	// Contact lookup metrics
	ContactLookups *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		// Signal ingest metrics
		PacketsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrecorder_packets_received_total",
			Help: "Total number of call-state datagrams received",
		}, []string{"packet_type"}),
		PacketsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "callrecorder_packets_processed_total",
			Help: "Total number of call-state datagrams delivered to the state machine",
		}),
		ParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrecorder_parse_errors_total",
			Help: "Total number of datagram parsing errors",
		}, []string{"error_type"}),
		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "callrecorder_packet_queue_size",
			Help: "Current number of datagrams waiting for the state machine",
		}),
		CallEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrecorder_call_events_total",
			Help: "Total number of call lifecycle events emitted",
		}, []string{"kind"}),

		// Capture metrics
		ActiveCaptures: f.NewGauge(prometheus.GaugeOpts{
			Name: "callrecorder_active_captures",
			Help: "Number of captures currently running",
		}),
		CapturesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrecorder_captures_started_total",
			Help: "Total number of captures started",
		}, []string{"variant"}),
		CaptureFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrecorder_capture_failures_total",
			Help: "Total number of captures that could not start or finish",
		}, []string{"reason"}),
		RecordingsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "callrecorder_recordings_saved_total",
			Help: "Total number of recordings added to the index",
		}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callrecorder_recording_duration_seconds",
			Help:    "Duration of saved recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Storage operation metrics
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrecorder_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "result"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callrecorder_operation_duration_seconds",
			Help:    "Duration of storage operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4 minutes
		}, []string{"operation"}),
		SweepDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "callrecorder_sweep_deleted_total",
			Help: "Total number of recordings removed by the retention sweep",
		}),

		// Contact lookup metrics
		ContactLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrecorder_contact_lookups_total",
			Help: "Total number of contact name lookups",
		}, []string{"result"}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrecorder_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callrecorder_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callrecorder_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived(packetType string) {
	m.PacketsReceived.WithLabelValues(packetType).Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError(errorType string) {
	m.ParseErrors.WithLabelValues(errorType).Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

func (m *Metrics) RecordCallEvent(kind string) {
	m.CallEvents.WithLabelValues(kind).Inc()
}

// RecordCaptureStarted counts a started capture and marks it active
func (m *Metrics) RecordCaptureStarted(variant string) {
	m.CapturesStarted.WithLabelValues(variant).Inc()
	m.ActiveCaptures.Set(1)
}

// RecordCaptureStopped marks the capture inactive
func (m *Metrics) RecordCaptureStopped() {
	m.ActiveCaptures.Set(0)
}

func (m *Metrics) RecordCaptureFailure(reason string) {
	m.CaptureFailures.WithLabelValues(reason).Inc()
}

// RecordRecordingSaved records an indexed recording and its duration
func (m *Metrics) RecordRecordingSaved(durationSeconds float64) {
	m.RecordingsSaved.Inc()
	m.RecordingDuration.Observe(durationSeconds)
}

// RecordOperation records the result and duration of a storage operation
func (m *Metrics) RecordOperation(operation string, err error, durationSeconds float64) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

func (m *Metrics) RecordSweepDeleted(count int) {
	m.SweepDeleted.Add(float64(count))
}

// RecordContactLookup counts a lookup by result: hit, miss or error
func (m *Metrics) RecordContactLookup(result string) {
	m.ContactLookups.WithLabelValues(result).Inc()
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
