// Package metrics implements C11's Prometheus surface (spec.md §4.12),
// consolidated onto a single promauto-registered Metrics type. The teacher
// carried a three-layer indirection here (MetricsInterface ->
// EnhancedMetrics -> SimpleMetrics, with a separate Prometheus-backed
// Metrics type bolted on alongside) left over from an incremental
// migration to Prometheus; this implementation collapses that to the one
// type every caller actually needs, renamed from WebSocket/NATS-price-feed
// terminology to the collab engine's own vocabulary (connections,
// fan-out messages, script latency, write-behind queue depth).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the single Prometheus registry wrapper for the process,
// constructed once in cmd/collabd/main.go and threaded through
// internal/transport.
type Metrics struct {
	connectionsTotal   prometheus.Counter
	connectionsActive  prometheus.Gauge
	connectionDuration prometheus.Histogram
	connectionsErrors  prometheus.Counter

	eventsReceived prometheus.Counter
	eventsSent     prometheus.Counter
	eventSize      prometheus.Histogram

	eventLatency       prometheus.Histogram
	scriptLatency      prometheus.Histogram
	busLatency         prometheus.Histogram

	errorsTotal   *prometheus.CounterVec
	lastErrorTime prometheus.Gauge

	goroutinesCount prometheus.Gauge
	memoryUsage     prometheus.Gauge
	cpuUsage        prometheus.Gauge

	busConnectionStatus prometheus.Gauge
	busReconnects       prometheus.Counter
	busMessages         prometheus.Counter

	writerQueueDepth prometheus.Gauge
	writerProcessed  prometheus.Counter
	writerFailed     prometheus.Counter
	writerOverflow   prometheus.Counter

	startTime time.Time
	mu        sync.RWMutex
	clients   int64
}

func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_connections_active",
			Help: "Number of currently active WebSocket connections",
		}),
		connectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collabd_connection_duration_seconds",
			Help:    "Duration of WebSocket connections",
			Buckets: prometheus.DefBuckets,
		}),
		connectionsErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_connection_errors_total",
			Help: "Total number of WebSocket connection errors",
		}),

		eventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_events_received_total",
			Help: "Total number of inbound events received from clients",
		}),
		eventsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_events_sent_total",
			Help: "Total number of outbound events sent to clients",
		}),
		eventSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collabd_event_size_bytes",
			Help:    "Size of event frames in bytes",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000},
		}),

		eventLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collabd_event_handling_seconds",
			Help:    "Latency of inbound event dispatch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		scriptLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collabd_script_latency_seconds",
			Help:    "Latency of C2 atomic mutation script invocations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		busLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collabd_bus_publish_seconds",
			Help:    "Latency of fan-out bus publish calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		errorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collabd_errors_total",
			Help: "Total number of errors by kind",
		}, []string{"kind"}),
		lastErrorTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_last_error_timestamp",
			Help: "Unix timestamp of the last recorded error",
		}),

		goroutinesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_goroutines",
			Help: "Number of goroutines",
		}),
		memoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_memory_usage_bytes",
			Help: "Process memory usage in bytes",
		}),
		cpuUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_cpu_usage_percent",
			Help: "System-wide CPU usage percentage",
		}),

		busConnectionStatus: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_bus_connection_status",
			Help: "Fan-out bus connection status (1=connected, 0=disconnected)",
		}),
		busReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_bus_reconnects_total",
			Help: "Total number of fan-out bus reconnections",
		}),
		busMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_bus_messages_total",
			Help: "Total number of fan-out bus messages processed",
		}),

		writerQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_writer_queue_depth",
			Help: "Current depth of the write-behind queue",
		}),
		writerProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_writer_writes_processed_total",
			Help: "Total number of durable writes processed",
		}),
		writerFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_writer_writes_failed_total",
			Help: "Total number of durable writes that failed",
		}),
		writerOverflow: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_writer_queue_overflow_total",
			Help: "Total number of durable writes dropped due to a full queue",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.mu.Lock()
	m.clients++
	m.mu.Unlock()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed(duration time.Duration) {
	m.mu.Lock()
	m.clients--
	m.mu.Unlock()
	m.connectionsActive.Dec()
	m.connectionDuration.Observe(duration.Seconds())
}

func (m *Metrics) ConnectionError() { m.connectionsErrors.Inc() }

func (m *Metrics) EventReceived(size int) {
	m.eventsReceived.Inc()
	m.eventSize.Observe(float64(size))
}

func (m *Metrics) EventSent() { m.eventsSent.Inc() }

func (m *Metrics) ObserveEventLatency(d time.Duration)  { m.eventLatency.Observe(d.Seconds()) }
func (m *Metrics) ObserveScriptLatency(d time.Duration) { m.scriptLatency.Observe(d.Seconds()) }
func (m *Metrics) ObserveBusLatency(d time.Duration)    { m.busLatency.Observe(d.Seconds()) }

func (m *Metrics) RecordError(kind string) {
	m.errorsTotal.WithLabelValues(kind).Inc()
	m.lastErrorTime.SetToCurrentTime()
}

func (m *Metrics) UpdateGoroutines(count int)    { m.goroutinesCount.Set(float64(count)) }
func (m *Metrics) UpdateMemoryUsage(bytes uint64) { m.memoryUsage.Set(float64(bytes)) }
func (m *Metrics) UpdateCPUUsage(percent float64) { m.cpuUsage.Set(percent) }

func (m *Metrics) SetBusConnected(connected bool) {
	if connected {
		m.busConnectionStatus.Set(1)
	} else {
		m.busConnectionStatus.Set(0)
	}
}
func (m *Metrics) IncrementBusReconnects() { m.busReconnects.Inc() }
func (m *Metrics) IncrementBusMessages()   { m.busMessages.Inc() }

func (m *Metrics) SetWriterQueueDepth(depth int) { m.writerQueueDepth.Set(float64(depth)) }
func (m *Metrics) IncrementWriterProcessed()     { m.writerProcessed.Inc() }
func (m *Metrics) IncrementWriterFailed()        { m.writerFailed.Inc() }
func (m *Metrics) IncrementWriterOverflow()      { m.writerOverflow.Inc() }

func (m *Metrics) ActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients
}

func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }
