// File: control/metrics.go
// Package control exposes the operational surface of the relay: Prometheus
// collectors, the admin HTTP endpoint, and tracing hooks.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "relay"

// Metrics bundles the Prometheus collectors maintained by the relay.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsPeak   prometheus.Gauge
	JoinsTotal        prometheus.Counter
	LeavesTotal       *prometheus.CounterVec
	MessagesTotal     prometheus.Counter
	FramesRead        prometheus.Counter
	FramesWritten     prometheus.Counter
	HandshakeFailures *prometheus.CounterVec
}

// NewMetrics registers the relay collectors with reg and returns them.
// Callers running several relays in one process must pass distinct
// registries.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of currently connected clients",
		}),
		ConnectionsPeak: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_peak",
			Help:      "Highest concurrent connection count since start",
		}),
		JoinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "joins_total",
			Help:      "Total number of admitted connections",
		}),
		LeavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "leaves_total",
			Help:      "Total number of closed connections by teardown reason",
		}, []string{"reason"}),
		MessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Total number of chat messages relayed",
		}),
		FramesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_read_total",
			Help:      "Total number of WebSocket frames decoded from clients",
		}),
		FramesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_written_total",
			Help:      "Total number of WebSocket frames written to clients",
		}),
		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshake_failures_total",
			Help:      "Total number of rejected upgrade attempts by cause",
		}, []string{"cause"}),
	}
}

// Handshake failure causes used as label values.
const (
	FailureCapacity = "capacity"
	FailurePath     = "path"
	FailureHeaders  = "headers"
	FailureIO       = "io"
)
