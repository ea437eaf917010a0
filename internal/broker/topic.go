// =============================================================================
// TOPIC - SUBSCRIPTIONS AND THE PUBLISH FAN-OUT
// =============================================================================
//
// A topic owns its subscriptions and assigns each published message a
// monotonically increasing entry id. Publish hands the message to every
// subscription; each subscription independently selects a consumer (or
// backlogs the message). Storage and retention live behind the broker's
// storage engine and are not this type's concern.
//
// =============================================================================

package broker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrSubscriptionNotFound means no subscription with that name exists
	// on the topic.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriptionExists means Subscribe found a subscription with the
	// same name but a different type.
	ErrSubscriptionExists = errors.New("subscription exists with different type")
)

// Topic holds the subscriptions of one fully qualified topic.
type Topic struct {
	name      TopicName
	listeners *ListenerSet
	ackTimeout time.Duration

	entrySeq atomic.Uint64

	mu   sync.RWMutex
	subs map[string]*Subscription
}

func newTopic(name TopicName, ackTimeout time.Duration, listeners *ListenerSet) *Topic {
	return &Topic{
		name:       name,
		listeners:  listeners,
		ackTimeout: ackTimeout,
		subs:       make(map[string]*Subscription),
	}
}

// Name returns the parsed topic name.
func (t *Topic) Name() TopicName { return t.name }

// Subscribe returns the named subscription, creating it if absent. Asking
// for an existing subscription with a different type is an error.
func (t *Topic) Subscribe(name string, subType SubscriptionType) (*Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sub, ok := t.subs[name]; ok {
		if sub.Type() != subType {
			return nil, ErrSubscriptionExists
		}
		return sub, nil
	}

	sub := newSubscription(t.name, name, subType, t.ackTimeout, t.listeners)
	t.subs[name] = sub
	return sub, nil
}

// Subscription returns the named subscription.
func (t *Topic) Subscription(name string) (*Subscription, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sub, ok := t.subs[name]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// Unsubscribe removes the named subscription, detaching its consumers.
func (t *Topic) Unsubscribe(name string) error {
	t.mu.Lock()
	sub, ok := t.subs[name]
	if ok {
		delete(t.subs, name)
	}
	t.mu.Unlock()

	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.close()
	return nil
}

// SubscriptionCount returns the number of subscriptions on the topic.
func (t *Topic) SubscriptionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Publish assigns the payload an entry id and fans it out to every
// subscription.
func (t *Topic) Publish(payload []byte) Message {
	msg := Message{
		Entry:       t.entrySeq.Add(1),
		Payload:     payload,
		PublishedAt: time.Now(),
	}

	t.mu.RLock()
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	for _, sub := range subs {
		sub.dispatch(msg)
	}
	return msg
}

// RedeliverExpired sweeps every subscription for ack-timeout expiries.
func (t *Topic) RedeliverExpired(now time.Time) int {
	t.mu.RLock()
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	total := 0
	for _, sub := range subs {
		total += sub.RedeliverExpired(now)
	}
	return total
}

// close tears down every subscription.
func (t *Topic) close() {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[string]*Subscription)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
