// Package metrics holds the Prometheus instruments for the sender side.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all sender instruments. Each Server owns one set so two
// senders in one process do not collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	ClientsConnected prometheus.Gauge
	FramesSent       *prometheus.CounterVec
	FramesDropped    prometheus.Counter
	BytesSent        prometheus.Counter
	EncodeDuration   prometheus.Histogram
	AudioPackets     prometheus.Counter
}

// New creates and registers all sender metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ClientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "omt_clients_connected",
			Help: "Number of currently connected client sessions",
		}),
		FramesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omt_frames_sent_total",
				Help: "Total frames fanned out to clients",
			},
			[]string{"type"}, // video, audio, metadata
		),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "omt_frames_dropped_total",
			Help: "Producer frames overwritten before the encoder consumed them",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "omt_bytes_sent_total",
			Help: "Total payload bytes written to client sockets",
		}),
		EncodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "omt_encode_duration_seconds",
			Help:    "Video encode time per frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to 512ms
		}),
		AudioPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "omt_audio_packets_total",
			Help: "Total audio packets emitted",
		}),
	}
}

// Handler returns the /metrics scrape handler for this instrument set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
