// =============================================================================
// CONSUMER STATS LISTENER - LIFECYCLE BRIDGE INTO THE STATS REGISTRY
// =============================================================================
//
// WHAT IS THIS?
// The metrics subsystem's hook into the consumer lifecycle. The broker
// invokes it synchronously on every attach and detach:
//
//   attach  -> resolve the attribute tuple once, register the counter set,
//              bind it to the consumer's dispatch path
//   detach  -> unregister, which deletes the consumer's series outright
//
// Because the broker runs listeners before the consumer becomes
// dispatchable (and after it stops being so), there is no window where an
// export cycle can see a consumer without its counter set or a counter set
// without its consumer.
//
// A duplicate identity is a programming error in the attach path; the
// registry's ErrConsumerAlreadyRegistered propagates out and vetoes the
// attach rather than silently merging two consumers into one series.
//
// =============================================================================

package metrics

import (
	"topicbus/internal/broker"
)

// ConsumerStatsListener registers/unregisters per-consumer counter sets as
// consumers come and go. It implements broker.ConsumerEventListener.
type ConsumerStatsListener struct {
	registry *ConsumerStatsRegistry
}

// NewConsumerStatsListener creates the lifecycle listener for the given
// metrics registry.
func NewConsumerStatsListener(r *Registry) *ConsumerStatsListener {
	return &ConsumerStatsListener{registry: r.Consumer}
}

// ConsumerAttached resolves the attribute tuple, creates the counter set,
// and binds it to the consumer. Implements broker.ConsumerEventListener.
func (l *ConsumerStatsListener) ConsumerAttached(c *broker.Consumer) error {
	attrs := ResolveConsumerAttributes(c)
	stats, err := l.registry.Register(ConsumerID(c.ID()), attrs)
	if err != nil {
		return err
	}
	c.BindStats(stats)
	return nil
}

// ConsumerDetached removes the consumer's counter set; its series disappear
// from the next collection. Implements broker.ConsumerEventListener.
func (l *ConsumerStatsListener) ConsumerDetached(c *broker.Consumer) {
	l.registry.Unregister(ConsumerID(c.ID()))
}

// ResolveConsumerAttributes derives the immutable dimensional tuple from the
// broker-side consumer descriptor. Called exactly once per attach; the
// result never changes for the consumer's lifetime.
func ResolveConsumerAttributes(c *broker.Consumer) ConsumerAttributes {
	topic := c.Topic()
	client := c.Client()

	// Metadata is the client's property list verbatim; copy it so the
	// tuple stays immutable even if the caller mutates its slice.
	metadata := make([]string, len(client.Metadata))
	copy(metadata, client.Metadata)

	return ConsumerAttributes{
		Domain:           string(topic.Domain),
		Tenant:           topic.Tenant,
		Namespace:        topic.Namespace(),
		Topic:            topic.String(),
		Subscription:     c.Subscription(),
		SubscriptionType: c.SubscriptionType().String(),
		ConsumerName:     c.Name(),
		ConsumerID:       c.ConsumerID(),
		ConnectedSince:   c.ConnectedAt().Unix(),
		ClientAddress:    client.Address,
		ClientVersion:    client.Version,
		Metadata:         metadata,
	}
}
