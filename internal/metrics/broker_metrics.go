// =============================================================================
// BROKER METRICS - TOPIC-LEVEL INSTRUMENTATION
// =============================================================================
//
// WHAT IS THIS?
// The long-lived, topic-labeled side of the broker's telemetry: publish
// volume in and subscription population. These series are bounded by topic
// count and live for the life of the process, so plain CounterVec/GaugeVec
// registration is the right tool (contrast with the per-consumer collector
// in consumer_collector.go, whose series must die with the consumer).
//
// PROMQL EXAMPLES:
//
//   # Publish throughput per topic
//   rate(topicbus_broker_messages_in_total[5m])
//
//   # Ingress bandwidth
//   rate(topicbus_broker_bytes_in_total[5m])
//
// =============================================================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics contains the topic-level metrics.
type BrokerMetrics struct {
	// MessagesIn counts messages accepted for publication.
	// Labels: topic
	MessagesIn *prometheus.CounterVec

	// BytesIn counts payload bytes accepted for publication.
	// Labels: topic
	BytesIn *prometheus.CounterVec

	// ActiveSubscriptions is the current subscription count per topic.
	// Labels: topic
	ActiveSubscriptions *prometheus.GaugeVec

	registry *Registry
}

// newBrokerMetrics creates and registers the topic-level metrics.
func newBrokerMetrics(r *Registry) *BrokerMetrics {
	m := &BrokerMetrics{registry: r}

	topicLabels := []string{"topic"}

	m.MessagesIn = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "messages_in_total",
			Help:      "Total messages accepted for publication",
		},
		topicLabels,
	)

	m.BytesIn = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "broker",
			Name:      "bytes_in_total",
			Help:      "Total payload bytes accepted for publication",
		},
		topicLabels,
	)

	m.ActiveSubscriptions = r.newGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: "broker",
			Name:      "active_subscriptions",
			Help:      "Current number of subscriptions per topic",
		},
		topicLabels,
	)

	return m
}

// =============================================================================
// CONVENIENCE METHODS
// =============================================================================
//
// Nil-safe on purpose: callers hold a *BrokerMetrics that is nil when
// metrics are disabled, and the dispatch path must not branch on that.

// RecordPublish records one message accepted for publication.
func (m *BrokerMetrics) RecordPublish(topic string, payloadBytes int) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.MessagesIn.WithLabelValues(topic).Inc()
	m.BytesIn.WithLabelValues(topic).Add(float64(payloadBytes))
}

// SetActiveSubscriptions sets the subscription count for a topic.
func (m *BrokerMetrics) SetActiveSubscriptions(topic string, count int) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.ActiveSubscriptions.WithLabelValues(topic).Set(float64(count))
}
