// =============================================================================
// CONSUMER - THE BROKER-SIDE VIEW OF ONE ATTACHED CLIENT
// =============================================================================
//
// WHAT IS THIS?
// The broker's bookkeeping for a single consumer attached to a subscription:
// its identity, the client connection details, flow-control credit, and the
// table of deliveries awaiting acknowledgement. Every dispatch-path event
// (deliver, ack, redeliver, permit grant, expiry) passes through a method on
// this type, and each event applies its counter effect synchronously at the
// point the event is recognized. There is no deferred flush: an abrupt
// disconnect never loses counts.
//
// EVENT -> COUNTER MAP:
//
//   ┌────────────────────────────────┬───────────────────────────────────────┐
//   │ Event                          │ Effect                                │
//   ├────────────────────────────────┼───────────────────────────────────────┤
//   │ SendMessage                    │ out+1, bytes+len, unacked+1,          │
//   │                                │ permits-1 (floor 0)                   │
//   │ Ack                            │ acked+1, unacked-1                    │
//   │ RedeliverExpired / Redeliver   │ redelivered+n                         │
//   │ FlowPermits                    │ permits+n (ceiling queue size)        │
//   │ permits exhausted / restored   │ blocked=true / blocked=false          │
//   │ ExpirePending                  │ unacked-n (no ack counted)            │
//   └────────────────────────────────┴───────────────────────────────────────┘
//
// FLOW CONTROL:
// A consumer announces receive capacity by granting itself permits (the
// client's receiver queue size bounds the ceiling). Each delivery consumes
// one permit; at zero permits the consumer is blocked and the dispatcher
// stops selecting it until credit returns.
//
// CONCURRENCY:
// Permits and the blocked flag are atomics because shared-subscription
// fan-out can drive one consumer from several dispatch goroutines. The
// pending table takes a short mutex; it is touched once per delivery/ack,
// never iterated on the hot path (only by the redelivery sweep).
//
// =============================================================================

package broker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMessageNotPending means an ack or redelivery referenced an entry
	// this consumer has no outstanding delivery for.
	ErrMessageNotPending = errors.New("message not pending for consumer")

	// ErrConsumerClosed means the consumer already detached.
	ErrConsumerClosed = errors.New("consumer closed")
)

// StatsRecorder receives the counter effects of dispatch-path events. The
// metrics subsystem provides the real implementation; a consumer without one
// records into a no-op.
type StatsRecorder interface {
	RecordDelivery(payloadBytes int)
	RecordAck()
	RecordRedelivery(n int)
	RecordExpiry(n int)
	SetPermits(n int64)
	SetBlocked(blocked bool)
}

// nopStatsRecorder is the recorder used before/without metrics binding.
type nopStatsRecorder struct{}

func (nopStatsRecorder) RecordDelivery(int)  {}
func (nopStatsRecorder) RecordAck()          {}
func (nopStatsRecorder) RecordRedelivery(int) {}
func (nopStatsRecorder) RecordExpiry(int)    {}
func (nopStatsRecorder) SetPermits(int64)    {}
func (nopStatsRecorder) SetBlocked(bool)     {}

// ClientInfo is what the transport layer knows about the connecting client.
type ClientInfo struct {
	// Address is the remote socket address, "host:port".
	Address string

	// Version is the client library version string.
	Version string

	// Metadata holds client-supplied properties as ordered "key:value"
	// strings. Order and content are preserved verbatim.
	Metadata []string
}

// ConsumerOptions are the client-chosen parameters of an attach.
type ConsumerOptions struct {
	// Name is the client-chosen consumer name (display only, need not be
	// unique).
	Name string

	// ReceiverQueueSize bounds the consumer's flow-control credit.
	ReceiverQueueSize int

	// Client describes the connection.
	Client ClientInfo
}

// Message is one published message as seen by the dispatch path.
type Message struct {
	// Entry is the topic-scoped, monotonically increasing entry id.
	Entry uint64

	// Payload is the message body.
	Payload []byte

	// PublishedAt is the broker receive time.
	PublishedAt time.Time
}

// Consumer is the broker-side state for one attached consumer.
type Consumer struct {
	id          string
	consumerID  uint64
	name        string
	topic       TopicName
	subName     string
	subType     SubscriptionType
	client      ClientInfo
	queueSize   int64
	connectedAt time.Time

	permits atomic.Int64
	blocked atomic.Bool
	stats   StatsRecorder

	mu      sync.Mutex
	pending map[uint64]time.Time // entry -> last delivery time
	closed  bool
}

// newConsumer is called by Subscription.AddConsumer, which allocates the
// numeric consumerID.
func newConsumer(topic TopicName, subName string, subType SubscriptionType, consumerID uint64, opts ConsumerOptions) *Consumer {
	return &Consumer{
		id:          uuid.NewString(),
		consumerID:  consumerID,
		name:        opts.Name,
		topic:       topic,
		subName:     subName,
		subType:     subType,
		client:      opts.Client,
		queueSize:   int64(opts.ReceiverQueueSize),
		connectedAt: time.Now(),
		stats:       nopStatsRecorder{},
		pending:     make(map[uint64]time.Time),
	}
}

// =============================================================================
// IDENTITY AND DESCRIPTORS
// =============================================================================

// ID is the opaque identity of this consumer instance, stable from attach to
// detach and never reused while the instance is active.
func (c *Consumer) ID() string { return c.id }

// ConsumerID is the numeric id allocated by the subscription, unique among
// its currently attached consumers.
func (c *Consumer) ConsumerID() uint64 { return c.consumerID }

// Name returns the client-chosen consumer name.
func (c *Consumer) Name() string { return c.name }

// Topic returns the parsed topic name the consumer is attached under.
func (c *Consumer) Topic() TopicName { return c.topic }

// Subscription returns the subscription name.
func (c *Consumer) Subscription() string { return c.subName }

// SubscriptionType returns the subscription's mode.
func (c *Consumer) SubscriptionType() SubscriptionType { return c.subType }

// Client returns the connection descriptor supplied at attach.
func (c *Consumer) Client() ClientInfo { return c.client }

// ConnectedAt returns the wall-clock instant of successful attach.
func (c *Consumer) ConnectedAt() time.Time { return c.connectedAt }

// ReceiverQueueSize returns the configured permit ceiling.
func (c *Consumer) ReceiverQueueSize() int { return int(c.queueSize) }

// BindStats attaches the stats recorder. Called by the lifecycle listener
// during attach, before any message can be dispatched to this consumer.
func (c *Consumer) BindStats(stats StatsRecorder) {
	if stats == nil {
		stats = nopStatsRecorder{}
	}
	c.stats = stats
}

// =============================================================================
// DISPATCH PATH
// =============================================================================

// SendMessage hands one message to the consumer. It consumes one permit
// (never below zero), registers the delivery in the pending table for the
// ack-timeout sweep, and flips blocked when credit runs out.
func (c *Consumer) SendMessage(msg Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConsumerClosed
	}
	c.pending[msg.Entry] = time.Now()
	c.mu.Unlock()

	remaining := c.adjustPermits(-1)
	c.stats.RecordDelivery(len(msg.Payload))

	if remaining == 0 {
		c.setBlocked(true)
	}
	return nil
}

// Ack acknowledges one outstanding delivery. Acking an entry that is not
// pending is rejected so the ack counter can never pass the delivery
// counter.
func (c *Consumer) Ack(entry uint64) error {
	c.mu.Lock()
	if _, ok := c.pending[entry]; !ok {
		c.mu.Unlock()
		return ErrMessageNotPending
	}
	delete(c.pending, entry)
	c.mu.Unlock()

	c.stats.RecordAck()
	return nil
}

// FlowPermits grants n permits of flow-control credit, capped at the
// receiver queue size. Restored credit unblocks the consumer.
func (c *Consumer) FlowPermits(n int) {
	if n <= 0 {
		return
	}
	if c.adjustPermits(int64(n)) > 0 {
		c.setBlocked(false)
	}
}

// RedeliverExpired counts a redelivery event for every pending entry whose
// last delivery is older than timeout, and restarts its ack clock. Returns
// the number of redeliveries recorded.
func (c *Consumer) RedeliverExpired(now time.Time, timeout time.Duration) int {
	c.mu.Lock()
	n := 0
	for entry, deliveredAt := range c.pending {
		if now.Sub(deliveredAt) >= timeout {
			c.pending[entry] = now
			n++
		}
	}
	c.mu.Unlock()

	c.stats.RecordRedelivery(n)
	return n
}

// Redeliver counts an explicit redelivery request (client nack) for the
// given entries. Unknown entries are ignored; the client may nack a message
// the sweep already retired.
func (c *Consumer) Redeliver(entries []uint64) int {
	now := time.Now()
	c.mu.Lock()
	n := 0
	for _, entry := range entries {
		if _, ok := c.pending[entry]; ok {
			c.pending[entry] = now
			n++
		}
	}
	c.mu.Unlock()

	c.stats.RecordRedelivery(n)
	return n
}

// ExpirePending retires outstanding deliveries that will never be
// acknowledged (TTL expiry, subscription teardown). Only the unacked gauge
// moves; no ack is counted. Returns the number of entries retired.
func (c *Consumer) ExpirePending(entries []uint64) int {
	c.mu.Lock()
	n := 0
	for _, entry := range entries {
		if _, ok := c.pending[entry]; ok {
			delete(c.pending, entry)
			n++
		}
	}
	c.mu.Unlock()

	c.stats.RecordExpiry(n)
	return n
}

// =============================================================================
// STATE READS
// =============================================================================

// AvailablePermits returns the current flow-control credit.
func (c *Consumer) AvailablePermits() int64 { return c.permits.Load() }

// Blocked reports whether dispatch to this consumer is currently throttled.
func (c *Consumer) Blocked() bool { return c.blocked.Load() }

// UnackedCount returns the number of outstanding deliveries.
func (c *Consumer) UnackedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// hasPermits is the dispatcher's selection predicate.
func (c *Consumer) hasPermits() bool { return c.permits.Load() > 0 }

// close marks the consumer detached. Further SendMessage calls fail.
func (c *Consumer) close() {
	c.mu.Lock()
	c.closed = true
	c.pending = make(map[uint64]time.Time)
	c.mu.Unlock()
}

// =============================================================================
// INTERNAL
// =============================================================================

// adjustPermits adds delta to the permit count, clamped to [0, queueSize],
// mirrors the result to the stats recorder, and returns it. CAS loop: two
// concurrent deliveries must not race the clamp.
func (c *Consumer) adjustPermits(delta int64) int64 {
	for {
		cur := c.permits.Load()
		next := cur + delta
		if next < 0 {
			next = 0
		}
		if next > c.queueSize {
			next = c.queueSize
		}
		if c.permits.CompareAndSwap(cur, next) {
			c.stats.SetPermits(next)
			return next
		}
	}
}

func (c *Consumer) setBlocked(blocked bool) {
	c.blocked.Store(blocked)
	c.stats.SetBlocked(blocked)
}
