// Package observability mirrors bridge statistics into Prometheus
// metrics. It consumes stats snapshots from the event bus so it never
// reaches into the client directly.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/facebridge-ai/facebridge/internal/eventbus"
	"github.com/facebridge-ai/facebridge/internal/vts"
)

// Metrics holds the Prometheus mirror of the client's service stats.
type Metrics struct {
	registry *prometheus.Registry

	messagesSent       prometheus.Gauge
	connectionAttempts prometheus.Gauge
	failedConnections  prometheus.Gauge
	uptimeSeconds      prometheus.Gauge
	connectionOpen     prometheus.Gauge
	hostActive         prometheus.Gauge
	framesObserved     prometheus.Counter
}

// New registers the bridge metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		messagesSent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "facebridge", Name: "messages_sent",
			Help: "Tracking messages acknowledged by the host.",
		}),
		connectionAttempts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "facebridge", Name: "connection_attempts",
			Help: "Successful connection attempts.",
		}),
		failedConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "facebridge", Name: "failed_connections",
			Help: "Connection attempts that failed to reach the host.",
		}),
		uptimeSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "facebridge", Name: "uptime_seconds",
			Help: "Seconds since the current connection opened.",
		}),
		connectionOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "facebridge", Name: "connection_open",
			Help: "1 while the client connection is open.",
		}),
		hostActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "facebridge", Name: "host_active",
			Help: "1 while the host reports its API as active.",
		}),
		framesObserved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "facebridge", Name: "frames_observed_total",
			Help: "Tracking frames seen on the bus.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Record applies one stats snapshot to the mirror.
func (m *Metrics) Record(stats vts.ServiceStats) {
	m.messagesSent.Set(float64(stats.MessagesSent))
	m.connectionAttempts.Set(float64(stats.ConnectionAttempts))
	m.failedConnections.Set(float64(stats.FailedConnections))
	m.uptimeSeconds.Set(stats.UptimeSeconds)
	if stats.Status == vts.StateOpen {
		m.connectionOpen.Set(1)
	} else {
		m.connectionOpen.Set(0)
	}
}

// Watch consumes bus events until ctx is cancelled.
func (m *Metrics) Watch(ctx context.Context, bus *eventbus.Bus) {
	stats := bus.Subscribe(eventbus.TopicBridgeStats)
	defer stats.Close()
	frames := bus.Subscribe(eventbus.TopicTrackingFrame)
	defer frames.Close()
	conns := bus.Subscribe(eventbus.TopicBridgeConnection)
	defer conns.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-stats.C():
			if event, ok := env.Payload.(eventbus.StatsEvent); ok {
				m.Record(event.Stats)
			}
		case <-frames.C():
			m.framesObserved.Inc()
		case env := <-conns.C():
			if event, ok := env.Payload.(eventbus.ConnectionEvent); ok {
				if event.Active {
					m.hostActive.Set(1)
				} else {
					m.hostActive.Set(0)
				}
			}
		}
	}
}
