package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "homewatch_"

var (
	registerOnce sync.Once

	ingestTotal   *prometheus.CounterVec
	ingestLatency prometheus.Histogram

	transitionsTotal *prometheus.CounterVec

	notificationsTotal *prometheus.CounterVec

	broadcastTotal *prometheus.CounterVec
	streamClients  prometheus.Gauge
)

// Init registers the alert engine metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		ingestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_ingest_total",
				Help: "Total alert ingestions by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_ingest_latency_seconds",
				Help:    "Ingest request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		transitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_transitions_total",
				Help: "Total state transitions by action and result",
			},
			[]string{"action", "result"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		)
		broadcastTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_events_total",
				Help: "Total realtime events published by type",
			},
			[]string{"type"},
		)
		streamClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_clients",
				Help: "Currently connected realtime observers",
			},
		)

		prometheus.MustRegister(
			ingestTotal,
			ingestLatency,
			transitionsTotal,
			notificationsTotal,
			broadcastTotal,
			streamClients,
		)
	})
}

// IncIngest counts one ingestion by result (accepted, deduplicated, error).
func IncIngest(result string) {
	if ingestTotal != nil {
		ingestTotal.WithLabelValues(result).Inc()
	}
}

// ObserveIngestLatency records one ingest request duration.
func ObserveIngestLatency(elapsed time.Duration) {
	if ingestLatency != nil {
		ingestLatency.Observe(elapsed.Seconds())
	}
}

// IncTransition counts one transition attempt by action and result.
func IncTransition(action, result string) {
	if transitionsTotal != nil {
		transitionsTotal.WithLabelValues(action, result).Inc()
	}
}

// IncNotification counts one delivery attempt by channel and outcome.
func IncNotification(channel, outcome string) {
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(channel, outcome).Inc()
	}
}

// IncBroadcast counts one published realtime event by type.
func IncBroadcast(eventType string) {
	if broadcastTotal != nil {
		broadcastTotal.WithLabelValues(eventType).Inc()
	}
}

// SetStreamClients records the current observer count.
func SetStreamClients(count int) {
	if streamClients != nil {
		streamClients.Set(float64(count))
	}
}
