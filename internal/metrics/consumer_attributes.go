// =============================================================================
// CONSUMER ATTRIBUTES - THE FIXED DIMENSIONAL TUPLE FOR EXPORT
// =============================================================================
//
// WHAT IS THIS?
// The label set attached to every per-consumer measurement. It is resolved
// exactly once, when the consumer attaches, and never changes afterwards
// (the one exception is the blocked flag, which is live dispatch state and
// is re-read at each collection).
//
// WHY A STRUCT AND NOT A map[string]string?
// A dynamically-built attribute bag invites two failure modes:
//   - key typos that silently fork a metric into two series
//   - accidental unbounded keys (message IDs, timestamps) that explode
//     cardinality at export time
// A fixed struct makes the attribute schema a compile-time fact.
//
// =============================================================================

package metrics

import (
	"strconv"
	"strings"
)

// Label keys for per-consumer series, in export order. These are fixed
// identifiers; dashboards and alerts depend on them.
const (
	LabelDomain           = "domain"
	LabelTenant           = "tenant"
	LabelNamespace        = "namespace"
	LabelTopic            = "topic"
	LabelSubscription     = "subscription"
	LabelSubscriptionType = "subscription_type"
	LabelConsumerName     = "consumer_name"
	LabelConsumerID       = "consumer_id"
	LabelConnectedSince   = "connected_since"
	LabelClientAddress    = "client_address"
	LabelClientVersion    = "client_version"
	LabelConsumerMetadata = "consumer_metadata"
	LabelConsumerBlocked  = "consumer_blocked"
)

// ConsumerAttributes is the immutable dimensional tuple for one attached
// consumer.
type ConsumerAttributes struct {
	// Domain is the topic domain ("persistent" or "non-persistent").
	Domain string

	// Tenant and Namespace locate the topic in the resource hierarchy.
	// Namespace is the qualified form, e.g. "acme/orders".
	Tenant    string
	Namespace string

	// Topic is the fully qualified topic name,
	// e.g. "persistent://acme/orders/created".
	Topic string

	// Subscription is the subscription name; SubscriptionType is its mode
	// ("Exclusive", "Shared", "Failover", "KeyShared").
	Subscription     string
	SubscriptionType string

	// ConsumerName is the client-chosen display name. ConsumerID is the
	// numeric id allocated by the subscription, unique among its currently
	// attached consumers.
	ConsumerName string
	ConsumerID   uint64

	// ConnectedSince is the attach instant in whole epoch seconds.
	ConnectedSince int64

	// ClientAddress is the remote socket address ("host:port");
	// ClientVersion is the client library version string.
	ClientAddress string
	ClientVersion string

	// Metadata holds the client-supplied properties as ordered "key:value"
	// strings, preserved verbatim: no deduplication, no reordering.
	Metadata []string
}

// consumerLabelKeys is the label schema shared by all per-consumer metrics.
var consumerLabelKeys = []string{
	LabelDomain,
	LabelTenant,
	LabelNamespace,
	LabelTopic,
	LabelSubscription,
	LabelSubscriptionType,
	LabelConsumerName,
	LabelConsumerID,
	LabelConnectedSince,
	LabelClientAddress,
	LabelClientVersion,
	LabelConsumerMetadata,
}

// unackedLabelKeys extends the shared schema with the live blocked flag.
// Blocked rides on the unacked gauge only: it explains WHY the backlog is
// not draining, and putting it on the cumulative counters would churn their
// series identity every time dispatch pauses.
var unackedLabelKeys = append(append([]string{}, consumerLabelKeys...), LabelConsumerBlocked)

// labelValues renders the tuple in consumerLabelKeys order.
func (a ConsumerAttributes) labelValues() []string {
	return []string{
		a.Domain,
		a.Tenant,
		a.Namespace,
		a.Topic,
		a.Subscription,
		a.SubscriptionType,
		a.ConsumerName,
		strconv.FormatUint(a.ConsumerID, 10),
		strconv.FormatInt(a.ConnectedSince, 10),
		a.ClientAddress,
		a.ClientVersion,
		strings.Join(a.Metadata, ","),
	}
}

// validate reports whether the tuple is complete enough to export. A single
// malformed entry is skipped at collection time rather than failing the
// whole scrape.
func (a ConsumerAttributes) validate() error {
	switch {
	case a.Topic == "":
		return errMissingAttribute("topic")
	case a.Subscription == "":
		return errMissingAttribute("subscription")
	case a.Domain == "":
		return errMissingAttribute("domain")
	}
	return nil
}

type errMissingAttribute string

func (e errMissingAttribute) Error() string {
	return "consumer attributes missing " + string(e)
}
