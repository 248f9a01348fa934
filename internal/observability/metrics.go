package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/hopmq/internal/devbroker"
	"github.com/danmuck/hopmq/internal/protocol/session"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hopmq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hopmq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hopmq",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames moved by client sessions, by direction.",
		},
		[]string{"node", "direction"},
	)
	sessionBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hopmq",
			Subsystem: "session",
			Name:      "bytes_total",
			Help:      "Wire bytes moved by client sessions, by direction.",
		},
		[]string{"node", "direction"},
	)
	sessionDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hopmq",
			Subsystem: "session",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that could not be attributed to a channel.",
		},
		[]string{"node", "reason"},
	)
	sessionReadMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hopmq",
			Subsystem: "session",
			Name:      "read_misses_total",
			Help:      "Reads that found nothing before the deadline.",
		},
		[]string{"node"},
	)
	sessionReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hopmq",
			Subsystem: "session",
			Name:      "read_duration_seconds",
			Help:      "Time spent blocked on the connection per read.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node"},
	)
	brokerConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hopmq",
			Subsystem: "broker",
			Name:      "connections",
			Help:      "Open broker connections.",
		},
		[]string{"node"},
	)
	brokerFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hopmq",
			Subsystem: "broker",
			Name:      "frames_total",
			Help:      "Frames handled by the broker.",
		},
		[]string{"node", "kind", "op"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionFrames, sessionBytes, sessionDropped, sessionReadMisses, sessionReadDuration,
			brokerConns, brokerFrames,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// SessionMetrics records session actor events under one node label.
// Channel names are left out of the labels to keep cardinality bounded.
type SessionMetrics struct {
	node string
}

var _ session.Observer = (*SessionMetrics)(nil)

func NewSessionMetrics(node string) *SessionMetrics {
	RegisterMetrics()
	return &SessionMetrics{node: node}
}

func (m *SessionMetrics) FrameSent(_ string, bytes int) {
	sessionFrames.WithLabelValues(m.node, "sent").Inc()
	sessionBytes.WithLabelValues(m.node, "sent").Add(float64(bytes))
}

func (m *SessionMetrics) FrameReceived(_ string, bytes int) {
	sessionFrames.WithLabelValues(m.node, "received").Inc()
	sessionBytes.WithLabelValues(m.node, "received").Add(float64(bytes))
}

func (m *SessionMetrics) FrameDemuxed(string) {
	sessionFrames.WithLabelValues(m.node, "demuxed").Inc()
}

func (m *SessionMetrics) FrameDropped(reason string) {
	sessionDropped.WithLabelValues(m.node, reason).Inc()
}

func (m *SessionMetrics) ReadMiss(string) {
	sessionReadMisses.WithLabelValues(m.node).Inc()
}

func (m *SessionMetrics) ReadDuration(d time.Duration) {
	sessionReadDuration.WithLabelValues(m.node).Observe(d.Seconds())
}

type BrokerMetrics struct {
	node string
}

var _ devbroker.Observer = (*BrokerMetrics)(nil)

func NewBrokerMetrics(node string) *BrokerMetrics {
	RegisterMetrics()
	return &BrokerMetrics{node: node}
}

func (m *BrokerMetrics) ConnOpened() { brokerConns.WithLabelValues(m.node).Inc() }

func (m *BrokerMetrics) ConnClosed() { brokerConns.WithLabelValues(m.node).Dec() }

func (m *BrokerMetrics) FrameHandled(kind, op string) {
	brokerFrames.WithLabelValues(m.node, kind, op).Inc()
}
