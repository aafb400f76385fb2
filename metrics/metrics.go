package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics shared by the probe's I/O queue and measurement loop.
var (
	ActiveProbes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "echoprobe_active_probes",
			Help: "A gauge of measurement loops currently running.",
		},
		[]string{"protocol"})
	OperationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoprobe_operations_total",
			Help: "Number of operations submitted to the I/O queue.",
		},
		[]string{"operation"},
	)
	RoundTripTicks = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "echoprobe_round_trip_ticks",
			Help: "A histogram of per-message round trip times in counter ticks.",
			Buckets: prometheus.ExponentialBuckets(
				1000, 4, 15),
		},
		[]string{"protocol"},
	)
	ProbeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoprobe_probes_total",
			Help: "Number of measurement loops run by this probe.",
		},
		[]string{"protocol", "result"},
	)
	BuffersOutstanding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "echoprobe_buffers_outstanding",
			Help: "A gauge of pool buffers allocated and not yet released.",
		},
	)
)

// Metrics for the echo server side.
var (
	EchoedConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoserver_connections_total",
			Help: "Number of connections accepted by the echo server.",
		},
		[]string{"protocol"},
	)
	EchoedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoserver_echoed_bytes_total",
			Help: "Number of payload bytes echoed back to clients.",
		},
		[]string{"protocol"},
	)
)
