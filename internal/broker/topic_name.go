// =============================================================================
// TOPIC NAMES - FULLY QUALIFIED, HIERARCHICAL
// =============================================================================
//
// WHAT IS THIS?
// topicbus topic names are fully qualified:
//
//   {domain}://{tenant}/{namespace}/{local}
//   persistent://acme/orders/created
//
// The hierarchy exists for multi-tenancy: a tenant owns namespaces,
// a namespace groups topics that share policies. The domain says whether
// the topic's backlog survives a broker restart.
//
// COMPARISON:
//   - Kafka: flat topic names, tenancy bolted on via prefixes and ACLs
//   - RabbitMQ: vhost/exchange/queue triple
//   - Pulsar: the same four-part scheme used here
//
// =============================================================================

package broker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTopicName means the name does not match
	// {domain}://{tenant}/{namespace}/{local}.
	ErrInvalidTopicName = errors.New("invalid topic name")
)

// TopicDomain distinguishes durable from transient topics.
type TopicDomain string

const (
	// DomainPersistent marks topics whose backlog is durable.
	DomainPersistent TopicDomain = "persistent"

	// DomainNonPersistent marks in-memory topics; messages to disconnected
	// subscriptions are dropped.
	DomainNonPersistent TopicDomain = "non-persistent"
)

// TopicName is a parsed fully qualified topic name.
type TopicName struct {
	Domain TopicDomain
	Tenant string
	// NamespaceLocal is the bare namespace segment ("orders").
	NamespaceLocal string
	// Local is the topic's own segment ("created").
	Local string
}

// ParseTopicName parses and validates a fully qualified topic name.
func ParseTopicName(name string) (TopicName, error) {
	domainPart, rest, ok := strings.Cut(name, "://")
	if !ok {
		return TopicName{}, fmt.Errorf("%w: %q missing domain scheme", ErrInvalidTopicName, name)
	}

	domain := TopicDomain(domainPart)
	if domain != DomainPersistent && domain != DomainNonPersistent {
		return TopicName{}, fmt.Errorf("%w: unknown domain %q", ErrInvalidTopicName, domainPart)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return TopicName{}, fmt.Errorf("%w: %q needs tenant/namespace/topic", ErrInvalidTopicName, name)
	}
	for _, p := range parts {
		if p == "" {
			return TopicName{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopicName, name)
		}
	}

	return TopicName{
		Domain:         domain,
		Tenant:         parts[0],
		NamespaceLocal: parts[1],
		Local:          parts[2],
	}, nil
}

// Namespace returns the qualified namespace, "tenant/namespace".
func (t TopicName) Namespace() string {
	return t.Tenant + "/" + t.NamespaceLocal
}

// String returns the fully qualified form.
func (t TopicName) String() string {
	return fmt.Sprintf("%s://%s/%s/%s", t.Domain, t.Tenant, t.NamespaceLocal, t.Local)
}
