// =============================================================================
// SUBSCRIPTION - A NAMED CONSUMPTION CURSOR OVER A TOPIC
// =============================================================================
//
// WHAT IS THIS?
// A subscription is the unit of consumption: a named cursor over a topic
// that one or more consumers attach to. The subscription type decides the
// fan-out:
//
//   ┌────────────┬──────────────────────────────────────────────────────────┐
//   │ Exclusive  │ One consumer only; a second attach is rejected           │
//   │ Failover   │ Many may attach, one receives; the rest are standby      │
//   │ Shared     │ Many attach, messages round-robin across them            │
//   │ KeyShared  │ Shared, but same-key messages stick to one consumer      │
//   └────────────┴──────────────────────────────────────────────────────────┘
//
// CONSUMER ID ALLOCATION:
// Each attach gets a numeric consumer id from a per-subscription monotonic
// counter. Ids are never reused within the subscription's lifetime, so two
// simultaneously attached consumers can never collide.
//
// DISPATCH:
// Publish hands each message to every subscription on the topic; the
// subscription selects one consumer with available permits (round-robin for
// shared types, the active consumer for exclusive/failover). With no credit
// anywhere the message is queued in the backlog and the starved consumers
// are marked blocked; granting permits drains the backlog.
//
// ACK TIMEOUT:
// Deliveries unacknowledged past the ack timeout get a redelivery event via
// the periodic sweep (sweep interval is broker config; tests drive the sweep
// directly with a fixed clock).
//
// =============================================================================

package broker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrConsumerBusy means the subscription type admits no further
	// consumers (exclusive subscription already taken).
	ErrConsumerBusy = errors.New("subscription already has a connected consumer")

	// ErrSubscriptionClosed means the subscription was removed.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// SubscriptionType is the consumption mode of a subscription.
type SubscriptionType int

const (
	// Exclusive admits a single consumer.
	Exclusive SubscriptionType = iota

	// Shared fans messages out round-robin across consumers.
	Shared

	// Failover admits many consumers but dispatches to one.
	Failover

	// KeyShared routes same-key messages to the same consumer.
	KeyShared
)

// String returns the canonical name used in attribute tuples.
func (t SubscriptionType) String() string {
	switch t {
	case Exclusive:
		return "Exclusive"
	case Shared:
		return "Shared"
	case Failover:
		return "Failover"
	case KeyShared:
		return "KeyShared"
	default:
		return fmt.Sprintf("SubscriptionType(%d)", int(t))
	}
}

// exclusiveConsumer reports whether the type admits at most one consumer.
func (t SubscriptionType) exclusiveConsumer() bool {
	return t == Exclusive
}

// Subscription is a named cursor over a topic with its attached consumers.
type Subscription struct {
	topic     TopicName
	name      string
	subType   SubscriptionType
	listeners *ListenerSet
	ackTimeout time.Duration

	mu             sync.Mutex
	consumers      []*Consumer
	nextConsumerID uint64
	rr             int
	backlog        []Message
	closed         bool
}

// newSubscription is called by Topic.Subscribe.
func newSubscription(topic TopicName, name string, subType SubscriptionType, ackTimeout time.Duration, listeners *ListenerSet) *Subscription {
	return &Subscription{
		topic:      topic,
		name:       name,
		subType:    subType,
		ackTimeout: ackTimeout,
		listeners:  listeners,
	}
}

// Name returns the subscription name.
func (s *Subscription) Name() string { return s.name }

// Type returns the subscription type.
func (s *Subscription) Type() SubscriptionType { return s.subType }

// Topic returns the parsed topic name.
func (s *Subscription) Topic() TopicName { return s.topic }

// =============================================================================
// CONSUMER LIFECYCLE
// =============================================================================

// AddConsumer attaches a consumer to this subscription. The attach and its
// lifecycle notification are atomic from an observer's point of view: the
// consumer is either fully attached (listeners notified, stats registered)
// or not attached at all. A listener rejection (duplicate identity) fails
// the attach.
func (s *Subscription) AddConsumer(opts ConsumerOptions) (*Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSubscriptionClosed
	}
	if s.subType.exclusiveConsumer() && len(s.consumers) > 0 {
		return nil, ErrConsumerBusy
	}

	id := s.nextConsumerID
	s.nextConsumerID++

	c := newConsumer(s.topic, s.name, s.subType, id, opts)
	if err := s.listeners.notifyAttached(c); err != nil {
		return nil, fmt.Errorf("consumer attach rejected: %w", err)
	}
	s.consumers = append(s.consumers, c)
	return c, nil
}

// RemoveConsumer detaches a consumer. The detach notification fires exactly
// once; removing an unknown or already-removed consumer is a no-op.
func (s *Subscription) RemoveConsumer(c *Consumer) {
	s.mu.Lock()
	found := false
	for i, existing := range s.consumers {
		if existing == c {
			s.consumers = append(s.consumers[:i], s.consumers[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return
	}
	c.close()
	s.listeners.notifyDetached(c)
}

// Consumers returns the currently attached consumers.
func (s *Subscription) Consumers() []*Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Consumer, len(s.consumers))
	copy(out, s.consumers)
	return out
}

// =============================================================================
// DISPATCH
// =============================================================================

// dispatch routes one message to a consumer with available permits, or
// queues it in the backlog when every consumer is out of credit.
func (s *Subscription) dispatch(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.dispatchLocked(msg) {
		s.backlog = append(s.backlog, msg)
	}
}

// dispatchLocked tries to deliver msg. Caller holds s.mu.
func (s *Subscription) dispatchLocked(msg Message) bool {
	n := len(s.consumers)
	if n == 0 {
		return false
	}

	// Shared types rotate the starting point; exclusive/failover always
	// land on the first (active) consumer.
	start := 0
	if s.subType == Shared || s.subType == KeyShared {
		start = s.rr % n
	}

	for i := 0; i < n; i++ {
		c := s.consumers[(start+i)%n]
		if !c.hasPermits() {
			continue
		}
		if err := c.SendMessage(msg); err != nil {
			continue
		}
		s.rr = (start + i + 1) % n
		return true
	}

	// No credit anywhere: dispatch is throttled until permits return.
	for _, c := range s.consumers {
		c.setBlocked(true)
	}
	return false
}

// Flow grants permits to the consumer and drains as much backlog as the new
// credit allows.
func (s *Subscription) Flow(c *Consumer, permits int) {
	c.FlowPermits(permits)

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.backlog) > 0 {
		if !s.dispatchLocked(s.backlog[0]) {
			return
		}
		s.backlog = s.backlog[1:]
	}
}

// BacklogSize returns the number of messages waiting for consumer credit.
func (s *Subscription) BacklogSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backlog)
}

// RedeliverExpired sweeps every consumer for deliveries unacknowledged past
// the ack timeout and records one redelivery event per expired delivery.
// Returns the total events recorded.
func (s *Subscription) RedeliverExpired(now time.Time) int {
	total := 0
	for _, c := range s.Consumers() {
		total += c.RedeliverExpired(now, s.ackTimeout)
	}
	return total
}

// close detaches every consumer and rejects further use.
func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	consumers := s.consumers
	s.consumers = nil
	s.backlog = nil
	s.mu.Unlock()

	for _, c := range consumers {
		c.close()
		s.listeners.notifyDetached(c)
	}
}
