package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txmux",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin plane HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "txmux",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin plane HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	peerMessagesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txmux",
			Subsystem: "peer",
			Name:      "messages_read_total",
			Help:      "Messages handled by the receive loop, by dispatch outcome.",
		},
		[]string{"outcome"},
	)
	peerMessagesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txmux",
			Subsystem: "peer",
			Name:      "messages_written_total",
			Help:      "Messages sent on the write path, by kind.",
		},
		[]string{"kind"},
	)
	peerLabelsInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "txmux",
			Subsystem: "peer",
			Name:      "labels_in_use",
			Help:      "Transaction labels currently borrowed, per peer.",
		},
		[]string{"peer"},
	)
	peerInboundDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "txmux",
			Subsystem: "peer",
			Name:      "inbound_queue_depth",
			Help:      "Inbound commands waiting for a consumer, per peer.",
		},
		[]string{"peer"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			peerMessagesRead,
			peerMessagesWritten,
			peerLabelsInUse,
			peerInboundDepth,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// PeerMetrics satisfies the engine's Metrics interface with the process
// Prometheus registry.
type PeerMetrics struct{}

func NewPeerMetrics() PeerMetrics {
	RegisterMetrics()
	return PeerMetrics{}
}

func (PeerMetrics) MessageRead(outcome string) {
	peerMessagesRead.WithLabelValues(outcome).Inc()
}

func (PeerMetrics) MessageWritten(kind string) {
	peerMessagesWritten.WithLabelValues(kind).Inc()
}

// SetPeerGauges publishes snapshot-derived gauges for one peer.
func SetPeerGauges(peer string, labelsInUse, inboundDepth int) {
	RegisterMetrics()
	peerLabelsInUse.WithLabelValues(peer).Set(float64(labelsInUse))
	peerInboundDepth.WithLabelValues(peer).Set(float64(inboundDepth))
}

// DropPeerGauges removes a departed peer's gauge series.
func DropPeerGauges(peer string) {
	peerLabelsInUse.DeleteLabelValues(peer)
	peerInboundDepth.DeleteLabelValues(peer)
}
