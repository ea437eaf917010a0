// =============================================================================
// CONSUMER LIFECYCLE LISTENERS
// =============================================================================
//
// WHAT IS THIS?
// An explicit, ordered list of listeners the broker invokes synchronously
// when a consumer attaches or detaches. The metrics subsystem is one such
// listener (it registers/unregisters the consumer's counter set); audit or
// quota hooks would be others.
//
// WHY SYNCHRONOUS, WHY ORDERED?
//   - SYNCHRONOUS: the counter set must exist before the first message can
//     be dispatched to the consumer, and must be gone when detach completes.
//     An async hook would open a window where an export cycle observes a
//     half-attached consumer.
//   - ORDERED: listeners run in registration order on attach and reverse
//     order on detach, so dependent hooks tear down in the opposite order
//     they set up.
//
// An attach listener can veto the attach by returning an error (e.g. a
// duplicate identity); listeners already notified are rolled back with a
// detach notification.
//
// =============================================================================

package broker

// ConsumerEventListener observes consumer lifecycle transitions.
type ConsumerEventListener interface {
	// ConsumerAttached is invoked after the subscription admitted the
	// consumer and before any message can be dispatched to it. Returning an
	// error fails the attach.
	ConsumerAttached(c *Consumer) error

	// ConsumerDetached is invoked exactly once when the consumer leaves
	// (explicit close, connection loss, or subscription removal).
	ConsumerDetached(c *Consumer)
}

// ListenerSet is the ordered collection of lifecycle listeners. Listeners
// are registered at broker construction time, before any consumer can
// attach; the set is not mutated afterwards, so notification needs no lock.
type ListenerSet struct {
	listeners []ConsumerEventListener
}

// NewListenerSet creates an empty listener set.
func NewListenerSet() *ListenerSet {
	return &ListenerSet{}
}

// Add appends a listener. Registration order is notification order.
func (ls *ListenerSet) Add(l ConsumerEventListener) {
	ls.listeners = append(ls.listeners, l)
}

// notifyAttached runs the attach hooks in order. On the first error, hooks
// that already ran are unwound with a detach notification and the error is
// returned to the attach path.
func (ls *ListenerSet) notifyAttached(c *Consumer) error {
	for i, l := range ls.listeners {
		if err := l.ConsumerAttached(c); err != nil {
			for j := i - 1; j >= 0; j-- {
				ls.listeners[j].ConsumerDetached(c)
			}
			return err
		}
	}
	return nil
}

// notifyDetached runs the detach hooks in reverse registration order.
func (ls *ListenerSet) notifyDetached(c *Consumer) {
	for i := len(ls.listeners) - 1; i >= 0; i-- {
		ls.listeners[i].ConsumerDetached(c)
	}
}
