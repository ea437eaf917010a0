// =============================================================================
// CONSUMER STATS COLLECTOR - PULL-BASED EXPORT OF PER-CONSUMER SERIES
// =============================================================================
//
// WHAT IS THIS?
// A prometheus.Collector that turns the consumer stats registry into labeled
// measurements at scrape time. Unlike the broker-wide CounterVecs (which are
// long-lived, pre-registered series), per-consumer series come and go with
// consumer connections, so they are emitted as const metrics from a registry
// snapshot on every collection:
//
//   scrape ──► Collect() ──► registry.Snapshot() ──► one const metric per
//                                                    counter per consumer
//
// WHY CONST METRICS INSTEAD OF A CounterVec PER CONSUMER?
//   - DETACH DELETES THE SERIES. A consumer that disconnects simply stops
//     appearing in the snapshot; there is no stale Vec child to forget to
//     Delete, and no zombie series lingering at its last value.
//   - SNAPSHOT CONSISTENCY. Each scrape reports one coherent enumeration of
//     the registry taken at collection time, not a mix of series mutated
//     mid-scrape.
//   - RUNNING TOTALS. Values are cumulative since attach; Prometheus derives
//     rates. A counter reset is exactly what a reconnecting consumer looks
//     like, which rate() already handles.
//
// ERROR CONTAINMENT:
// One consumer with unusable attributes must not take down the whole scrape.
// Bad entries are logged and skipped; everything else is still reported.
//
// =============================================================================

package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// consumerStatsCollector exports one measurement per counter per registered
// consumer on every scrape.
type consumerStatsCollector struct {
	registry *ConsumerStatsRegistry
	logger   *slog.Logger

	msgOut         *prometheus.Desc
	bytesOut       *prometheus.Desc
	msgAcked       *prometheus.Desc
	msgRedelivered *prometheus.Desc
	permits        *prometheus.Desc
	msgUnacked     *prometheus.Desc
}

// newConsumerStatsCollector builds the collector with the fixed metric names
// and label schema. namespace is the metric name prefix (normally the
// configured one, "topicbus" by default).
func newConsumerStatsCollector(namespace string, registry *ConsumerStatsRegistry, logger *slog.Logger) *consumerStatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	fq := func(name string) string {
		return prometheus.BuildFQName(namespace, "consumer", name)
	}
	return &consumerStatsCollector{
		registry: registry,
		logger:   logger.With("component", "consumer-collector"),

		msgOut: prometheus.NewDesc(
			fq("messages_out_total"),
			"Messages delivered to the consumer since it attached",
			consumerLabelKeys, nil,
		),
		bytesOut: prometheus.NewDesc(
			fq("bytes_out_total"),
			"Payload bytes delivered to the consumer since it attached",
			consumerLabelKeys, nil,
		),
		msgAcked: prometheus.NewDesc(
			fq("messages_acked_total"),
			"Messages acknowledged by the consumer since it attached",
			consumerLabelKeys, nil,
		),
		msgRedelivered: prometheus.NewDesc(
			fq("messages_redelivered_total"),
			"Redelivery events for the consumer since it attached",
			consumerLabelKeys, nil,
		),
		permits: prometheus.NewDesc(
			fq("available_permits"),
			"Remaining flow-control credit for the consumer",
			consumerLabelKeys, nil,
		),
		msgUnacked: prometheus.NewDesc(
			fq("messages_unacked"),
			"Messages delivered but not yet acknowledged, with the live blocked flag",
			unackedLabelKeys, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *consumerStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.msgOut
	ch <- c.bytesOut
	ch <- c.msgAcked
	ch <- c.msgRedelivered
	ch <- c.permits
	ch <- c.msgUnacked
}

// Collect implements prometheus.Collector. Every consumer present in the
// snapshot is reported, zero-valued counters included; a consumer absent
// from the snapshot is never reported.
func (c *consumerStatsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, entry := range c.registry.Snapshot() {
		if err := entry.Attributes.validate(); err != nil {
			// Skip the one bad entity, keep the scrape alive.
			c.logger.Warn("skipping consumer with unusable attributes",
				"consumer_name", entry.Attributes.ConsumerName,
				"error", err,
			)
			continue
		}

		labels := entry.Attributes.labelValues()
		stats := entry.Stats

		ch <- prometheus.MustNewConstMetric(c.msgOut, prometheus.CounterValue,
			float64(stats.MsgOut), labels...)
		ch <- prometheus.MustNewConstMetric(c.bytesOut, prometheus.CounterValue,
			float64(stats.BytesOut), labels...)
		ch <- prometheus.MustNewConstMetric(c.msgAcked, prometheus.CounterValue,
			float64(stats.MsgAcked), labels...)
		ch <- prometheus.MustNewConstMetric(c.msgRedelivered, prometheus.CounterValue,
			float64(stats.MsgRedelivered), labels...)
		ch <- prometheus.MustNewConstMetric(c.permits, prometheus.GaugeValue,
			float64(stats.AvailablePermits), labels...)

		unackedLabels := append(append([]string{}, labels...), boolLabel(stats.Blocked))
		ch <- prometheus.MustNewConstMetric(c.msgUnacked, prometheus.GaugeValue,
			float64(stats.MsgUnacked), unackedLabels...)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
