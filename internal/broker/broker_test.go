package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublishRecorder captures topic-level publish accounting.
type recordingPublishRecorder struct {
	mu        sync.Mutex
	publishes map[string]int
	bytes     map[string]int
	subCounts map[string]int
}

func newRecordingPublishRecorder() *recordingPublishRecorder {
	return &recordingPublishRecorder{
		publishes: make(map[string]int),
		bytes:     make(map[string]int),
		subCounts: make(map[string]int),
	}
}

func (r *recordingPublishRecorder) RecordPublish(topic string, payloadBytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishes[topic]++
	r.bytes[topic] += payloadBytes
}

func (r *recordingPublishRecorder) SetActiveSubscriptions(topic string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subCounts[topic] = count
}

func testBroker(t *testing.T) (*Broker, *recordingPublishRecorder) {
	t.Helper()
	rec := newRecordingPublishRecorder()
	b := New(DefaultConfig(), rec)
	t.Cleanup(func() { _ = b.Close() })
	return b, rec
}

const testTopic = "persistent://acme/orders/created"

func TestBroker_PublishFansOutToAllSubscriptions(t *testing.T) {
	b, rec := testBroker(t)

	billing, err := b.Subscribe(testTopic, "billing", Exclusive, ConsumerOptions{Name: "billing-0", ReceiverQueueSize: 10})
	require.NoError(t, err)
	audit, err := b.Subscribe(testTopic, "audit", Exclusive, ConsumerOptions{Name: "audit-0", ReceiverQueueSize: 10})
	require.NoError(t, err)
	billing.FlowPermits(10)
	audit.FlowPermits(10)

	for i := 0; i < 3; i++ {
		_, err := b.Publish(testTopic, []byte("payload"))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, billing.UnackedCount())
	assert.Equal(t, 3, audit.UnackedCount())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 3, rec.publishes[testTopic])
	assert.Equal(t, 3*len("payload"), rec.bytes[testTopic])
}

func TestBroker_PublishCreatesTopic(t *testing.T) {
	b, _ := testBroker(t)

	msg, err := b.Publish(testTopic, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.Entry)
	assert.Contains(t, b.ListTopics(), testTopic)
}

func TestBroker_PublishRejectsInvalidTopic(t *testing.T) {
	b, _ := testBroker(t)

	_, err := b.Publish("not-a-topic", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidTopicName)
}

func TestBroker_SubscribeAppliesDefaultQueueSize(t *testing.T) {
	rec := newRecordingPublishRecorder()
	cfg := DefaultConfig()
	cfg.DefaultReceiverQueueSize = 42
	b := New(cfg, rec)
	defer b.Close()

	c, err := b.Subscribe(testTopic, "billing", Shared, ConsumerOptions{Name: "c"})
	require.NoError(t, err)

	// The default is the permit ceiling: a larger grant caps there.
	c.FlowPermits(10_000)
	assert.Equal(t, int64(42), c.AvailablePermits())
}

func TestBroker_SubscribeTypeMismatch(t *testing.T) {
	b, _ := testBroker(t)

	_, err := b.Subscribe(testTopic, "billing", Shared, ConsumerOptions{Name: "a"})
	require.NoError(t, err)

	_, err = b.Subscribe(testTopic, "billing", Exclusive, ConsumerOptions{Name: "b"})
	assert.ErrorIs(t, err, ErrSubscriptionExists)
}

func TestBroker_SubscribeTracksActiveSubscriptions(t *testing.T) {
	b, rec := testBroker(t)

	_, err := b.Subscribe(testTopic, "billing", Shared, ConsumerOptions{Name: "a"})
	require.NoError(t, err)
	_, err = b.Subscribe(testTopic, "audit", Shared, ConsumerOptions{Name: "b"})
	require.NoError(t, err)

	rec.mu.Lock()
	count := rec.subCounts[testTopic]
	rec.mu.Unlock()
	assert.Equal(t, 2, count)

	require.NoError(t, b.Unsubscribe(testTopic, "audit"))

	rec.mu.Lock()
	count = rec.subCounts[testTopic]
	rec.mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBroker_UnsubscribeDetachesConsumers(t *testing.T) {
	b, _ := testBroker(t)

	listeners := b.Listeners()
	l := &countingListener{}
	listeners.Add(l)

	_, err := b.Subscribe(testTopic, "billing", Shared, ConsumerOptions{Name: "a"})
	require.NoError(t, err)
	require.Len(t, l.attached, 1)

	require.NoError(t, b.Unsubscribe(testTopic, "billing"))
	assert.Len(t, l.detached, 1)

	assert.ErrorIs(t, b.Unsubscribe(testTopic, "billing"), ErrSubscriptionNotFound)
	assert.ErrorIs(t, b.Unsubscribe("persistent://acme/orders/other", "billing"), ErrTopicNotFound)
}

func TestBroker_SweepExpired(t *testing.T) {
	rec := newRecordingPublishRecorder()
	cfg := DefaultConfig()
	cfg.AckTimeout = time.Second
	b := New(cfg, rec)
	defer b.Close()

	c, err := b.Subscribe(testTopic, "billing", Shared, ConsumerOptions{Name: "a", ReceiverQueueSize: 10})
	require.NoError(t, err)
	c.FlowPermits(10)

	for i := 0; i < 5; i++ {
		_, err := b.Publish(testTopic, []byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, c.Ack(1))
	require.NoError(t, c.Ack(2))
	require.NoError(t, c.Ack(3))

	assert.Equal(t, 0, b.SweepExpired(time.Now()))
	assert.Equal(t, 2, b.SweepExpired(time.Now().Add(2*time.Second)))
}

func TestBroker_Stats(t *testing.T) {
	b, _ := testBroker(t)

	_, err := b.Publish(testTopic, []byte("x"))
	require.NoError(t, err)
	_, err = b.Publish("persistent://acme/orders/other", []byte("x"))
	require.NoError(t, err)

	stats := b.Stats()
	assert.Equal(t, DefaultConfig().Name, stats.Name)
	assert.Equal(t, 2, stats.TopicCount)
	assert.GreaterOrEqual(t, stats.Uptime, time.Duration(0))
}

func TestBroker_CloseDetachesEverything(t *testing.T) {
	rec := newRecordingPublishRecorder()
	b := New(DefaultConfig(), rec)
	l := &countingListener{}
	b.Listeners().Add(l)
	b.StartSweeper()

	_, err := b.Subscribe(testTopic, "billing", Shared, ConsumerOptions{Name: "a"})
	require.NoError(t, err)
	_, err = b.Subscribe(testTopic, "audit", Shared, ConsumerOptions{Name: "b"})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.Len(t, l.detached, 2)
	assert.Empty(t, b.ListTopics())
}
