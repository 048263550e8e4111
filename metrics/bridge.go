package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BridgeMetrics aggregates the Prometheus collectors for the message
// transport layer. One instance is shared by the batcher, throttler,
// chunked transfer and ready gate of a single bridge controller.
type BridgeMetrics struct {
	MessagesSent      *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	MessagesCoalesced prometheus.Counter
	MessagesThrottled prometheus.Counter
	BatchesFlushed    prometheus.Counter
	BatchSize         prometheus.Histogram
	PendingMessages   prometheus.Gauge
	TransferBytes     *prometheus.CounterVec
	ChunksSent        prometheus.Counter
	ChunksReceived    prometheus.Counter
	TransferFailures  *prometheus.CounterVec
	HandshakeRetries  prometheus.Counter
	CompressionRatio  prometheus.Histogram
}

// NewBridgeMetrics creates and registers the bridge collectors with reg.
// Pass prometheus.DefaultRegisterer for process-global metrics, or a private
// registry in tests.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "messages_sent_total",
			Help:      "Messages handed to the platform channel, by target.",
		}, []string{"target"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped before transmission, by reason.",
		}, []string{"reason"}),
		MessagesCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "messages_coalesced_total",
			Help:      "Messages replaced in-queue by a newer update for the same route.",
		}),
		MessagesThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "messages_throttled_total",
			Help:      "Messages suppressed by per-route rate limiting.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "batches_flushed_total",
			Help:      "Batch envelopes written to the platform channel.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gamebridge",
			Name:      "batch_size",
			Help:      "Messages per flushed batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		PendingMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gamebridge",
			Name:      "pending_messages",
			Help:      "Messages currently queued awaiting flush or channel readiness.",
		}),
		TransferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "transfer_bytes_total",
			Help:      "Payload bytes moved through chunked transfer, by direction.",
		}, []string{"direction"}),
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "chunks_sent_total",
			Help:      "Chunk envelopes sent.",
		}),
		ChunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "chunks_received_total",
			Help:      "Chunk envelopes received and accepted by the reassembler.",
		}),
		TransferFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "transfer_failures_total",
			Help:      "Chunked transfers that failed verification, by cause.",
		}, []string{"cause"}),
		HandshakeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamebridge",
			Name:      "handshake_retries_total",
			Help:      "Readiness handshake attempts beyond the first.",
		}),
		CompressionRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gamebridge",
			Name:      "compression_ratio",
			Help:      "Compressed size divided by original size per payload.",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1.0},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.MessagesSent,
			m.MessagesDropped,
			m.MessagesCoalesced,
			m.MessagesThrottled,
			m.BatchesFlushed,
			m.BatchSize,
			m.PendingMessages,
			m.TransferBytes,
			m.ChunksSent,
			m.ChunksReceived,
			m.TransferFailures,
			m.HandshakeRetries,
			m.CompressionRatio,
		)
	}

	return m
}

// Nop returns unregistered collectors. Components accept a *BridgeMetrics
// unconditionally; callers that do not care pass Nop().
func Nop() *BridgeMetrics {
	return NewBridgeMetrics(nil)
}
