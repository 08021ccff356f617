// Package metrics defines the Prometheus metrics of the pine proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	Connections    *prometheus.CounterVec
	LiveBuffers    prometheus.Gauge
	ChunksStaged   *prometheus.CounterVec
	BytesForwarded *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	MessagesTraced *prometheus.CounterVec
	ChunkSize      *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Connections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pine_connections_total",
				Help: "Accepted connections by outcome",
			},
			[]string{"outcome"},
		),
		LiveBuffers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pine_live_buffers",
				Help: "Chunk ring buffers currently allocated",
			},
		),
		ChunksStaged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pine_chunks_staged_total",
				Help: "Chunks received from a socket into a chunk ring",
			},
			[]string{"direction"},
		),
		BytesForwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pine_bytes_forwarded_total",
				Help: "Bytes written to the peer socket",
			},
			[]string{"direction"},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pine_ring_rejections_total",
				Help: "Chunk ring calls rejected, by error code",
			},
			[]string{"op", "code"},
		),
		MessagesTraced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pine_messages_traced_total",
				Help: "9P messages decoded and printed",
			},
			[]string{"direction"},
		),
		ChunkSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pine_chunk_size_bytes",
				Help:    "Size of staged chunks",
				Buckets: prometheus.ExponentialBuckets(16, 4, 7),
			},
			[]string{"direction"},
		),
	}
}
