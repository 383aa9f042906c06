// Package metrics exposes Prometheus counters/histograms for the room
// server's connection, op-relay, and persistence paths.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric the room server publishes.
type Metrics struct {
	httpRequestsTotal   prometheus.Counter
	httpRequestDuration prometheus.Histogram

	connectionsOpen      prometheus.Gauge
	connectionsTotal     *prometheus.CounterVec
	joinRejectedTotal    prometheus.Counter

	opsRelayedTotal  *prometheus.CounterVec
	opsDroppedTotal  prometheus.Counter
	relayLatency     prometheus.Histogram

	snapshotSizeBytes    prometheus.Histogram
	snapshotPersistTotal *prometheus.CounterVec
}

// NewMetrics registers and returns a fresh metrics instance. Call once at
// process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomsync_http_requests_total",
			Help: "Total number of HTTP requests to the control-plane surface",
		}),
		httpRequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomsync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		connectionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "roomsync_connections_open",
			Help: "Current number of open room WebSocket connections",
		}),
		connectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_connections_total",
			Help: "Total connections accepted, by outcome",
		}, []string{"outcome"}),
		joinRejectedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomsync_join_rejected_total",
			Help: "Total join handshakes rejected (handshake read failure, bad join frame)",
		}),

		opsRelayedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_ops_relayed_total",
			Help: "Total CRDT ops relayed between peers, by kind",
		}, []string{"kind"}),
		opsDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomsync_ops_dropped_total",
			Help: "Total ops dropped because their target path did not resolve",
		}),
		relayLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomsync_relay_latency_seconds",
			Help:    "Time from receiving an op to relaying it to other peers",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),

		snapshotSizeBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomsync_snapshot_size_bytes",
			Help:    "Size of serialized room snapshots handed to persistence",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}),
		snapshotPersistTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_snapshot_persist_total",
			Help: "Total snapshot persistence attempts, by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordHTTPRequest(duration time.Duration) {
	m.httpRequestsTotal.Inc()
	m.httpRequestDuration.Observe(duration.Seconds())
}

func (m *Metrics) ConnectionOpened()       { m.connectionsOpen.Inc(); m.connectionsTotal.WithLabelValues("accepted").Inc() }
func (m *Metrics) ConnectionClosed()       { m.connectionsOpen.Dec() }
func (m *Metrics) JoinRejected()          { m.joinRejectedTotal.Inc(); m.connectionsTotal.WithLabelValues("rejected").Inc() }

func (m *Metrics) OpRelayed(kind string)   { m.opsRelayedTotal.WithLabelValues(kind).Inc() }
func (m *Metrics) OpDropped()              { m.opsDroppedTotal.Inc() }
func (m *Metrics) RelayLatency(d time.Duration) { m.relayLatency.Observe(d.Seconds()) }

func (m *Metrics) SnapshotPersisted(sizeBytes int, err error) {
	m.snapshotSizeBytes.Observe(float64(sizeBytes))
	if err != nil {
		m.snapshotPersistTotal.WithLabelValues("error").Inc()
		return
	}
	m.snapshotPersistTotal.WithLabelValues("ok").Inc()
}

// Registry returns the Prometheus gatherer to mount at /metrics.
func (m *Metrics) Registry() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}
