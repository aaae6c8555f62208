// Package broker wraps the external key/value + pub/sub store each node
// talks to. Client is the thin adapter interface; Redis (production) and
// Embedded (badger-backed, tests/single-binary) are the two backends.
package broker

import (
	"context"
	"time"
)

// Namespace is one of the four logical databases the runtime addresses.
type Namespace string

const (
	NamespaceTopics     Namespace = "topics"
	NamespaceParameters Namespace = "parameters"
	NamespaceTransforms Namespace = "transforms"
	NamespaceNodes      Namespace = "nodes"
)

// OpKind distinguishes pipeline operations.
type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
)

// Op is one pipelined key/value operation.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
	TTL   time.Duration // zero means no expiry; only meaningful for OpSet
}

// Message is one frame delivered over a pub/sub subscription.
type Message struct {
	Channel string
	Payload []byte
}

// PubSub is a single shared subscription session: channels can be added and
// removed from it over its lifetime, and all matching frames arrive on one
// delivery channel, mirroring the runtime's single-subscription-object
// dispatcher model.
type PubSub interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Channel() <-chan Message
	Close() error
}

// Client is the broker adapter every node dials. All values are opaque
// byte strings at this layer; interpretation is the codec's job.
type Client interface {
	// Get returns the value stored at key in namespace, or ok=false if
	// absent.
	Get(ctx context.Context, ns Namespace, key string) (value []byte, ok bool, err error)

	// Set stores value at key in namespace. ttl == 0 means no expiry.
	Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error

	// Delete removes key from namespace. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// Exists reports whether key is present in namespace.
	Exists(ctx context.Context, ns Namespace, key string) (bool, error)

	// Scan returns every key in namespace matching the shell-style glob
	// pattern.
	Scan(ctx context.Context, ns Namespace, globPattern string) ([]string, error)

	// Pipeline applies a batch of Set/Delete operations in namespace.
	// Atomicity is best-effort, matching the underlying store's pipeline
	// semantics, not a transaction.
	Pipeline(ctx context.Context, ns Namespace, ops []Op) error

	// Publish sends payload on channel (always in the topics namespace)
	// and returns the number of subscribers that received it.
	Publish(ctx context.Context, channel string, payload []byte) (subscribers int64, err error)

	// NumSub returns the current subscriber count for channel.
	NumSub(ctx context.Context, channel string) (int64, error)

	// NewPubSub opens a new shared subscription session.
	NewPubSub(ctx context.Context) (PubSub, error)

	// Ping checks broker liveness.
	Ping(ctx context.Context) error

	// Close releases all resources held by the client.
	Close() error
}
