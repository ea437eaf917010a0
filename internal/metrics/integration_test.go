package metrics

import (
	"testing"
	"time"

	"topicbus/internal/broker"
)

// Full wiring: broker lifecycle listeners feed the stats registry, dispatch
// events feed the counters, and the collector exports the result.
func TestConsumerMessagingMetrics(t *testing.T) {
	r := testRegistry(t)

	b := broker.New(broker.Config{
		Name:                     "test-0",
		AckTimeout:               time.Second,
		RedeliverySweepInterval:  time.Second,
		DefaultReceiverQueueSize: 1000,
	}, r.Broker)
	b.Listeners().Add(NewConsumerStatsListener(r))
	defer b.Close()

	const (
		topicName         = "persistent://acme/orders/created"
		subscriptionName  = "billing"
		messageCount      = 5
		ackCount          = 3
		receiverQueueSize = 100
	)

	consumer, err := b.Subscribe(topicName, subscriptionName, broker.Shared, broker.ConsumerOptions{
		Name:              "billing-0",
		ReceiverQueueSize: receiverQueueSize,
		Client: broker.ClientInfo{
			Address:  "127.0.0.1:50123",
			Version:  "topicbus-go-1.4.0",
			Metadata: []string{"prop1:value1"},
		},
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	topic, err := b.GetTopic(topicName)
	if err != nil {
		t.Fatalf("topic lookup failed: %v", err)
	}
	sub, err := topic.Subscription(subscriptionName)
	if err != nil {
		t.Fatalf("subscription lookup failed: %v", err)
	}
	sub.Flow(consumer, receiverQueueSize)

	var entries []uint64
	for i := 0; i < messageCount; i++ {
		msg, err := b.Publish(topicName, []byte("msg-payload"))
		if err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
		entries = append(entries, msg.Entry)
	}
	for i := 0; i < ackCount; i++ {
		if err := consumer.Ack(entries[i]); err != nil {
			t.Fatalf("ack %d failed: %v", i, err)
		}
	}

	snapshot := r.Consumer.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 consumer in snapshot, got %d", len(snapshot))
	}
	attrs, stats := snapshot[0].Attributes, snapshot[0].Stats

	if attrs.Domain != "persistent" || attrs.Tenant != "acme" || attrs.Namespace != "acme/orders" {
		t.Errorf("unexpected attribute tuple: %+v", attrs)
	}
	if attrs.Topic != topicName || attrs.Subscription != subscriptionName {
		t.Errorf("unexpected topic/subscription: %+v", attrs)
	}
	if attrs.SubscriptionType != "Shared" {
		t.Errorf("subscription type: expected Shared, got %s", attrs.SubscriptionType)
	}
	if attrs.ConsumerID != 0 {
		t.Errorf("consumer id: expected 0, got %d", attrs.ConsumerID)
	}
	if attrs.ConnectedSince <= 0 {
		t.Errorf("connected_since must be a positive epoch second, got %d", attrs.ConnectedSince)
	}
	if got, want := attrs.Metadata, "prop1:value1"; len(got) != 1 || got[0] != want {
		t.Errorf("metadata: expected [%s], got %v", want, got)
	}

	if stats.MsgOut != messageCount {
		t.Errorf("MsgOut: expected %d, got %d", messageCount, stats.MsgOut)
	}
	if stats.BytesOut <= 0 {
		t.Errorf("BytesOut: expected positive, got %d", stats.BytesOut)
	}
	if stats.MsgAcked != ackCount {
		t.Errorf("MsgAcked: expected %d, got %d", ackCount, stats.MsgAcked)
	}
	if stats.AvailablePermits < receiverQueueSize-messageCount-ackCount {
		t.Errorf("AvailablePermits: expected >= %d, got %d",
			receiverQueueSize-messageCount-ackCount, stats.AvailablePermits)
	}
	if want := int64(messageCount - ackCount); stats.MsgUnacked != want {
		t.Errorf("MsgUnacked: expected %d, got %d", want, stats.MsgUnacked)
	}
	if stats.Blocked {
		t.Error("consumer must not be blocked with permits remaining")
	}

	// Once the ack timeout elapses, the sweep records a redelivery event
	// for each of the two unacknowledged messages.
	b.SweepExpired(time.Now().Add(2 * time.Second))
	stats = r.Consumer.Snapshot()[0].Stats
	if want := int64(messageCount - ackCount); stats.MsgRedelivered < want {
		t.Errorf("MsgRedelivered: expected >= %d, got %d", want, stats.MsgRedelivered)
	}
	if stats.MsgOut != messageCount {
		t.Errorf("MsgOut must not move on redelivery events: expected %d, got %d",
			messageCount, stats.MsgOut)
	}
}

func TestConsumerDetachRemovesMetrics(t *testing.T) {
	r := testRegistry(t)

	b := broker.New(broker.DefaultConfig(), r.Broker)
	b.Listeners().Add(NewConsumerStatsListener(r))
	defer b.Close()

	const topicName = "persistent://acme/orders/created"

	if _, err := b.Subscribe(topicName, "billing", broker.Shared, broker.ConsumerOptions{Name: "a"}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if _, err := b.Subscribe(topicName, "audit", broker.Exclusive, broker.ConsumerOptions{Name: "b"}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if got := r.Consumer.Len(); got != 2 {
		t.Fatalf("expected 2 registered consumers, got %d", got)
	}

	if err := b.Unsubscribe(topicName, "billing"); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}

	snapshot := r.Consumer.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 consumer after detach, got %d", len(snapshot))
	}
	if snapshot[0].Attributes.Subscription != "audit" {
		t.Errorf("wrong survivor: %s", snapshot[0].Attributes.Subscription)
	}
}

func TestConsumerIDsUniquePerSubscription(t *testing.T) {
	r := testRegistry(t)

	b := broker.New(broker.DefaultConfig(), r.Broker)
	b.Listeners().Add(NewConsumerStatsListener(r))
	defer b.Close()

	const topicName = "persistent://acme/orders/created"
	for i := 0; i < 3; i++ {
		if _, err := b.Subscribe(topicName, "billing", broker.Shared, broker.ConsumerOptions{Name: "c"}); err != nil {
			t.Fatalf("subscribe %d failed: %v", i, err)
		}
	}

	seen := make(map[uint64]bool)
	for _, entry := range r.Consumer.Snapshot() {
		if seen[entry.Attributes.ConsumerID] {
			t.Errorf("duplicate consumer id %d", entry.Attributes.ConsumerID)
		}
		seen[entry.Attributes.ConsumerID] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct consumer ids, got %d", len(seen))
	}
}
