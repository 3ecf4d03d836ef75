package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection roles used as the "role" label
const (
	RoleIngest = "ingest"
	RoleWatch  = "watch"
)

// Metrics contains all Prometheus metrics for the TRB service
type Metrics struct {
	registry *prometheus.Registry

	// Ingest metrics
	MessagesReceived *prometheus.CounterVec
	BytesReceived    *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	QueueSize        prometheus.Gauge

	// Decoder metrics
	PacketsDecoded   *prometheus.CounterVec
	PacketsTruncated prometheus.Counter
	DecodeErrors     *prometheus.CounterVec
	DecodeDuration   prometheus.Histogram

	// Connection metrics
	ActiveConnections *prometheus.GaugeVec
	ConnectionsTotal  *prometheus.CounterVec

	// History metrics
	HistorySize      prometheus.Gauge
	WatchDeliveries  prometheus.Counter
	WatchDropped     prometheus.Counter
	HistoryEvictions prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewRegistry returns a registry carrying the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates all Prometheus metrics and registers them with reg
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Ingest metrics
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trbscope_messages_received_total",
			Help: "Total number of TRB messages received",
		}, []string{"transport"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trbscope_bytes_received_total",
			Help: "Total number of payload bytes received",
		}, []string{"transport"}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trbscope_messages_dropped_total",
			Help: "Total number of messages dropped before decoding",
		}, []string{"transport"}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trbscope_udp_queue_size",
			Help: "Current number of datagrams waiting in the UDP queue",
		}),

		// Decoder metrics
		PacketsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trbscope_packets_decoded_total",
			Help: "Total number of TRBs decoded, by type name",
		}, []string{"type_name"}),
		PacketsTruncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "trbscope_packets_truncated_total",
			Help: "Total number of TRBs decoded from buffers shorter than 16 bytes",
		}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trbscope_decode_errors_total",
			Help: "Total number of messages that could not be decoded",
		}, []string{"transport", "reason"}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trbscope_decode_duration_seconds",
			Help:    "Time spent decoding a single TRB",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 8), // 1us to ~16ms
		}),

		// Connection metrics
		ActiveConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trbscope_active_connections",
			Help: "Current number of open WebSocket connections",
		}, []string{"role"}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trbscope_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}, []string{"role"}),

		// History metrics
		HistorySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trbscope_history_records",
			Help: "Current number of records held in the packet history",
		}),
		WatchDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "trbscope_watch_deliveries_total",
			Help: "Total number of records written to watch connections",
		}),
		WatchDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "trbscope_watch_dropped_total",
			Help: "Total number of records skipped for slow watchers",
		}),
		HistoryEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "trbscope_history_evictions_total",
			Help: "Total number of records removed by retention cleanup",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trbscope_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trbscope_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trbscope_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the exposition handler for the registry these metrics live in
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordMessageReceived counts one incoming message and its size
func (m *Metrics) RecordMessageReceived(transport string, size int) {
	m.MessagesReceived.WithLabelValues(transport).Inc()
	m.BytesReceived.WithLabelValues(transport).Add(float64(size))
}

// RecordMessageDropped counts a message discarded before it reached the decoder
func (m *Metrics) RecordMessageDropped(transport string) {
	m.MessagesDropped.WithLabelValues(transport).Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordPacketDecoded records a successful decode
func (m *Metrics) RecordPacketDecoded(typeName string, truncated bool, durationSeconds float64) {
	m.PacketsDecoded.WithLabelValues(typeName).Inc()
	if truncated {
		m.PacketsTruncated.Inc()
	}
	m.DecodeDuration.Observe(durationSeconds)
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError(transport, reason string) {
	m.DecodeErrors.WithLabelValues(transport, reason).Inc()
}

// RecordConnectionOpened records an accepted connection
func (m *Metrics) RecordConnectionOpened(role string) {
	m.ConnectionsTotal.WithLabelValues(role).Inc()
	m.ActiveConnections.WithLabelValues(role).Inc()
}

// RecordConnectionClosed records a closed connection
func (m *Metrics) RecordConnectionClosed(role string) {
	m.ActiveConnections.WithLabelValues(role).Dec()
}

// SetHistorySize sets the number of records currently held
func (m *Metrics) SetHistorySize(size int) {
	m.HistorySize.Set(float64(size))
}

// RecordWatchDelivery records a record pushed to a watcher
func (m *Metrics) RecordWatchDelivery() {
	m.WatchDeliveries.Inc()
}

// RecordWatchDropped records a record skipped for a slow watcher
func (m *Metrics) RecordWatchDropped() {
	m.WatchDropped.Inc()
}

// RecordHistoryEvictions adds records removed by retention cleanup
func (m *Metrics) RecordHistoryEvictions(count int) {
	m.HistoryEvictions.Add(float64(count))
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
