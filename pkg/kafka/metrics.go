package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds producer and consumer collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	published       *prometheus.CounterVec
	publishErrors   *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec

	received   *prometheus.CounterVec
	processed  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	duplicate  *prometheus.CounterVec
	deadLetter *prometheus.CounterVec
	handling   *prometheus.HistogramVec
}

// NewMetrics registers the Kafka collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	topic := []string{"topic"}
	consumer := []string{"topic", "consumer_group"}
	return &Metrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kafka_producer_messages_published_total",
			Help: "Messages published",
		}, topic),
		publishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kafka_producer_publish_errors_total",
			Help: "Publish failures",
		}, topic),
		publishDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "kafka_producer_publish_duration_seconds",
			Help: "Publish latency", Buckets: prometheus.DefBuckets,
		}, topic),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kafka_consumer_messages_received_total",
			Help: "Messages fetched from the broker",
		}, consumer),
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kafka_consumer_messages_processed_total",
			Help: "Messages handled successfully",
		}, consumer),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kafka_consumer_messages_failed_total",
			Help: "Messages that exhausted their retries",
		}, consumer),
		duplicate: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kafka_consumer_messages_duplicate_total",
			Help: "Messages skipped by the idempotency guard",
		}, consumer),
		deadLetter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kafka_consumer_dlq_published_total",
			Help: "Messages forwarded to the dead-letter topic",
		}, consumer),
		handling: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "kafka_consumer_processing_duration_seconds",
			Help: "Handler latency", Buckets: prometheus.DefBuckets,
		}, consumer),
	}
}

func (m *Metrics) observePublish(topic string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.publishDuration.WithLabelValues(topic).Observe(seconds)
	if err != nil {
		m.publishErrors.WithLabelValues(topic).Inc()
		return
	}
	m.published.WithLabelValues(topic).Inc()
}

type outcome int

const (
	outcomeReceived outcome = iota
	outcomeProcessed
	outcomeFailed
	outcomeDuplicate
	outcomeDeadLettered
)

func (m *Metrics) count(o outcome, topic, group string) {
	if m == nil {
		return
	}
	var vec *prometheus.CounterVec
	switch o {
	case outcomeReceived:
		vec = m.received
	case outcomeProcessed:
		vec = m.processed
	case outcomeFailed:
		vec = m.failed
	case outcomeDuplicate:
		vec = m.duplicate
	case outcomeDeadLettered:
		vec = m.deadLetter
	default:
		return
	}
	vec.WithLabelValues(topic, group).Inc()
}

func (m *Metrics) observeHandling(topic, group string, seconds float64) {
	if m == nil {
		return
	}
	m.handling.WithLabelValues(topic, group).Observe(seconds)
}
