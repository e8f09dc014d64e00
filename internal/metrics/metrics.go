// Package metrics bundles the prometheus collectors shared across components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries every collector the server exports. One instance is created
// at startup and injected into the components that observe it.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	Subscriptions    prometheus.Gauge
	ReadingsIngested prometheus.Counter
	FanoutDelivered  prometheus.Counter
	FanoutDropped    prometheus.Counter
	Alerts           prometheus.Counter
	Commands         *prometheus.CounterVec
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer in
// production; tests use a private registry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sensorhub_active_sessions",
			Help: "Number of live viewer sessions.",
		}),
		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sensorhub_subscriptions",
			Help: "Number of sessions currently subscribed to a stream.",
		}),
		ReadingsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "sensorhub_readings_ingested_total",
			Help: "Readings accepted at the ingestion boundary.",
		}),
		FanoutDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "sensorhub_fanout_delivered_total",
			Help: "Per-session deliveries that reached the viewer.",
		}),
		FanoutDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sensorhub_fanout_dropped_total",
			Help: "Per-session deliveries dropped because the transport failed.",
		}),
		Alerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "sensorhub_alerts_total",
			Help: "Deviation alerts generated across all sessions.",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorhub_commands_total",
			Help: "Inbound protocol commands by cmd literal.",
		}, []string{"cmd"}),
	}
}
