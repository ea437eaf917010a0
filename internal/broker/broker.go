// =============================================================================
// BROKER - THE CENTRAL COORDINATOR
// =============================================================================
//
// WHAT IS THIS?
// The broker owns the topic map and the consumer lifecycle listener set, and
// runs the periodic ack-timeout sweep. It is deliberately small: message
// transport, persistence, and schema concerns live in their own layers; the
// broker's job here is to route publishes into subscriptions and to keep the
// lifecycle hooks (metrics among them) informed about every consumer attach
// and detach.
//
// WIRING:
//
//   ┌──────────┐ Publish  ┌────────┐ dispatch ┌──────────────┐
//   │ producer │ ────────►│ Topic  │ ────────►│ Subscription │──► Consumer
//   └──────────┘          └────────┘          └──────────────┘      │
//                                                    │ attach/detach│ events
//                                                    ▼              ▼
//                                             ┌─────────────┐ ┌───────────┐
//                                             │ ListenerSet │ │ StatsRec. │
//                                             └─────────────┘ └───────────┘
//
// The broker never imports the metrics package; it publishes into two narrow
// interfaces (ConsumerEventListener, PublishRecorder) that the metrics
// subsystem implements. That keeps the dependency arrow pointing one way.
//
// =============================================================================

package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrTopicNotFound means no topic with that name exists.
	ErrTopicNotFound = errors.New("topic not found")
)

// PublishRecorder receives topic-level publish accounting. Implemented by
// the metrics subsystem; nil disables recording.
type PublishRecorder interface {
	RecordPublish(topic string, payloadBytes int)
	SetActiveSubscriptions(topic string, count int)
}

// Config holds broker dispatch configuration.
type Config struct {
	// Name identifies this broker node.
	Name string

	// AckTimeout is how long a delivery may stay unacknowledged before the
	// sweep records a redelivery event for it.
	AckTimeout time.Duration

	// RedeliverySweepInterval is how often the ack-timeout sweep runs.
	RedeliverySweepInterval time.Duration

	// DefaultReceiverQueueSize is the permit ceiling applied when a
	// consumer attaches without one.
	DefaultReceiverQueueSize int
}

// DefaultConfig returns sensible broker defaults.
func DefaultConfig() Config {
	return Config{
		Name:                     "topicbus-0",
		AckTimeout:               30 * time.Second,
		RedeliverySweepInterval:  1 * time.Second,
		DefaultReceiverQueueSize: 1000,
	}
}

// Broker routes publishes into subscriptions and owns the consumer
// lifecycle hooks.
type Broker struct {
	config    Config
	logger    *slog.Logger
	listeners *ListenerSet
	recorder  PublishRecorder

	mu     sync.RWMutex
	topics map[string]*Topic

	startedAt time.Time

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New creates a broker. Lifecycle listeners must be added before the first
// consumer attaches.
func New(config Config, recorder PublishRecorder) *Broker {
	return &Broker{
		config:    config,
		logger:    slog.Default().With("component", "broker", "node", config.Name),
		listeners: NewListenerSet(),
		recorder:  recorder,
		topics:    make(map[string]*Topic),
		startedAt: time.Now(),
	}
}

// Listeners returns the lifecycle listener set for registration at startup.
func (b *Broker) Listeners() *ListenerSet {
	return b.listeners
}

// Config returns the broker configuration.
func (b *Broker) Config() Config {
	return b.config
}

// =============================================================================
// TOPIC MANAGEMENT
// =============================================================================

// GetOrCreateTopic parses the fully qualified name and returns the topic,
// creating it on first use.
func (b *Broker) GetOrCreateTopic(name string) (*Topic, error) {
	parsed, err := ParseTopicName(name)
	if err != nil {
		return nil, err
	}

	key := parsed.String()

	b.mu.RLock()
	t, ok := b.topics[key]
	b.mu.RUnlock()
	if ok {
		return t, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[key]; ok {
		return t, nil
	}
	t = newTopic(parsed, b.config.AckTimeout, b.listeners)
	b.topics[key] = t
	b.logger.Info("topic created", "topic", key)
	return t, nil
}

// GetTopic returns an existing topic.
func (b *Broker) GetTopic(name string) (*Topic, error) {
	parsed, err := ParseTopicName(name)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[parsed.String()]
	if !ok {
		return nil, ErrTopicNotFound
	}
	return t, nil
}

// ListTopics returns the fully qualified names of all topics.
func (b *Broker) ListTopics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.topics))
	for name := range b.topics {
		out = append(out, name)
	}
	return out
}

// =============================================================================
// PRODUCE / SUBSCRIBE
// =============================================================================

// Publish routes one payload into the named topic.
func (b *Broker) Publish(topic string, payload []byte) (Message, error) {
	t, err := b.GetOrCreateTopic(topic)
	if err != nil {
		return Message{}, err
	}

	msg := t.Publish(payload)
	if b.recorder != nil {
		b.recorder.RecordPublish(t.Name().String(), len(payload))
	}
	return msg, nil
}

// Subscribe attaches a consumer to the named subscription on the topic,
// creating both as needed. A zero ReceiverQueueSize gets the configured
// default.
func (b *Broker) Subscribe(topic, subscription string, subType SubscriptionType, opts ConsumerOptions) (*Consumer, error) {
	t, err := b.GetOrCreateTopic(topic)
	if err != nil {
		return nil, err
	}

	sub, err := t.Subscribe(subscription, subType)
	if err != nil {
		return nil, err
	}

	if opts.ReceiverQueueSize <= 0 {
		opts.ReceiverQueueSize = b.config.DefaultReceiverQueueSize
	}

	c, err := sub.AddConsumer(opts)
	if err != nil {
		return nil, err
	}

	if b.recorder != nil {
		b.recorder.SetActiveSubscriptions(t.Name().String(), t.SubscriptionCount())
	}

	b.logger.Info("consumer attached",
		"topic", t.Name().String(),
		"subscription", subscription,
		"consumer_name", c.Name(),
		"consumer_id", c.ConsumerID(),
	)
	return c, nil
}

// Unsubscribe removes a subscription from a topic, detaching its consumers.
func (b *Broker) Unsubscribe(topic, subscription string) error {
	t, err := b.GetTopic(topic)
	if err != nil {
		return err
	}
	if err := t.Unsubscribe(subscription); err != nil {
		return err
	}
	if b.recorder != nil {
		b.recorder.SetActiveSubscriptions(t.Name().String(), t.SubscriptionCount())
	}
	return nil
}

// =============================================================================
// ACK-TIMEOUT SWEEP
// =============================================================================

// SweepExpired runs one redelivery sweep across all topics at the given
// instant. The serve loop calls this on a ticker; tests call it directly.
func (b *Broker) SweepExpired(now time.Time) int {
	b.mu.RLock()
	topics := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	total := 0
	for _, t := range topics {
		total += t.RedeliverExpired(now)
	}
	if total > 0 {
		b.logger.Debug("ack-timeout sweep redelivered", "count", total)
	}
	return total
}

// StartSweeper runs the periodic ack-timeout sweep until Close.
func (b *Broker) StartSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	b.sweepCancel = cancel
	b.sweepDone = make(chan struct{})

	go func() {
		defer close(b.sweepDone)
		ticker := time.NewTicker(b.config.RedeliverySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.SweepExpired(now)
			}
		}
	}()
}

// =============================================================================
// STATS / SHUTDOWN
// =============================================================================

// Stats is the broker-level summary served by the admin API.
type Stats struct {
	Name       string        `json:"name"`
	Uptime     time.Duration `json:"uptime"`
	TopicCount int           `json:"topic_count"`
}

// Stats returns the broker-level summary.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	topicCount := len(b.topics)
	b.mu.RUnlock()

	return Stats{
		Name:       b.config.Name,
		Uptime:     time.Since(b.startedAt),
		TopicCount: topicCount,
	}
}

// Close stops the sweeper and tears down every topic, detaching all
// consumers (and thereby removing their metric series).
func (b *Broker) Close() error {
	if b.sweepCancel != nil {
		b.sweepCancel()
		<-b.sweepDone
	}

	b.mu.Lock()
	topics := b.topics
	b.topics = make(map[string]*Topic)
	b.mu.Unlock()

	for _, t := range topics {
		t.close()
	}
	b.logger.Info("broker closed")
	return nil
}
