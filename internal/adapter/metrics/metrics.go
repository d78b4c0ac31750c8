package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ForwarderMetrics holds all Prometheus metrics for the forwarder.
type ForwarderMetrics struct {
	MessagesTotal *prometheus.CounterVec
	RecordsTotal  *prometheus.CounterVec
	SendAttempts  prometheus.Counter
	SendsTotal    *prometheus.CounterVec
	SendDuration  *prometheus.HistogramVec
}

// NewForwarderMetrics initializes the collectors and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewForwarderMetrics(reg prometheus.Registerer) *ForwarderMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ForwarderMetrics{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "azmon_forwarder",
			Subsystem: "trigger",
			Name:      "messages_total",
			Help:      "Total number of trigger messages by status.",
		}, []string{"status"}), // status: parsed, malformed
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "azmon_forwarder",
			Subsystem: "router",
			Name:      "records_total",
			Help:      "Total number of routed records by destination kind.",
		}, []string{"kind"}), // kind: logs, metrics, skipped
		SendAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "azmon_forwarder",
			Subsystem: "sender",
			Name:      "attempts_total",
			Help:      "Total number of HTTP attempts made against the ingestion API.",
		}),
		SendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "azmon_forwarder",
			Subsystem: "sender",
			Name:      "sends_total",
			Help:      "Total number of settled send calls by outcome.",
		}, []string{"outcome"}),
		SendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "azmon_forwarder",
			Subsystem: "sender",
			Name:      "send_duration_seconds",
			Help:      "Duration of send calls including retries.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"outcome"}),
	}
}
