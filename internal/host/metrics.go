package host

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the host's lifecycle metrics.
type Metrics struct {
	Starts         prometheus.Counter
	Stops          prometheus.Counter
	Failures       *prometheus.CounterVec
	ReloadFailures prometheus.Counter
	ActiveBindings prometheus.Gauge
	Instances      *prometheus.GaugeVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatbot",
			Name:      "instance_starts_total",
			Help:      "Plugin instances started.",
		}),
		Stops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatbot",
			Name:      "instance_stops_total",
			Help:      "Plugin instances stopped.",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbot",
			Name:      "instance_failures_total",
			Help:      "Failed lifecycle operations by operation.",
		}, []string{"op"}),
		ReloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatbot",
			Name:      "config_reload_failures_total",
			Help:      "Instance config reloads that were rejected.",
		}),
		ActiveBindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatbot",
			Name:      "active_bindings",
			Help:      "Event handler bindings currently registered by started instances.",
		}),
		Instances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatbot",
			Name:      "instances",
			Help:      "Plugin instances by lifecycle state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.Starts, m.Stops, m.Failures, m.ReloadFailures, m.ActiveBindings, m.Instances)
	return m
}
