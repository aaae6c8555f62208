package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// namespacePrefix maps a logical namespace onto a badger key prefix, since
// badger has a single flat keyspace rather than Redis's logical databases.
var namespacePrefix = map[Namespace]string{
	NamespaceTopics:     "t:",
	NamespaceParameters: "p:",
	NamespaceTransforms: "x:",
	NamespaceNodes:      "n:",
}

// embeddedClient is a single-process broker backend over badger, used for
// tests and single-binary deployments that don't want an external Redis.
// Pub/sub has no badger equivalent, so it's implemented in-process with a
// channel-fan-out registry, following the subscriber-set pattern found in
// the pack's Redis pub/sub broker reference (distribute-to-registered-
// listeners with non-blocking sends).
type embeddedClient struct {
	db *badger.DB

	mu   sync.RWMutex
	subs map[string]map[*embeddedPubSub]struct{}
}

// NewEmbedded opens a fresh, standalone badger instance rooted at dir
// (typically t.TempDir() in tests). Unlike Connect's embedded path, the
// returned Client is never shared with another caller.
func NewEmbedded(dir string) (Client, error) {
	return newEmbeddedClient(dir)
}

func newEmbeddedClient(dir string) (*embeddedClient, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("broker: open embedded store: %w", err)
	}
	return &embeddedClient{db: db, subs: make(map[string]map[*embeddedPubSub]struct{})}, nil
}

func (c *embeddedClient) fullKey(ns Namespace, key string) string {
	return namespacePrefix[ns] + key
}

func (c *embeddedClient) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	var value []byte
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(c.fullKey(ns, key)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			value = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("broker: get %s/%s: %w", ns, key, err)
	}
	return value, found, nil
}

// Set stores value with an optional TTL. badger records expiry as a whole
// Unix second, so TTLs here have one-second granularity: a TTL shorter than
// a second can expire immediately.
func (c *embeddedClient) Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(c.fullKey(ns, key)), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("broker: set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (c *embeddedClient) Delete(ctx context.Context, ns Namespace, key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(c.fullKey(ns, key)))
	})
	if err != nil {
		return fmt.Errorf("broker: delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (c *embeddedClient) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	_, ok, err := c.Get(ctx, ns, key)
	return ok, err
}

func (c *embeddedClient) Scan(ctx context.Context, ns Namespace, globPattern string) ([]string, error) {
	prefix := namespacePrefix[ns]
	var keys []string
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			name := strings.TrimPrefix(string(it.Item().Key()), prefix)
			if matchGlob(globPattern, name) {
				keys = append(keys, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("broker: scan %s/%s: %w", ns, globPattern, err)
	}
	return keys, nil
}

func (c *embeddedClient) Pipeline(ctx context.Context, ns Namespace, ops []Op) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			full := []byte(c.fullKey(ns, op.Key))
			switch op.Kind {
			case OpSet:
				e := badger.NewEntry(full, op.Value)
				if op.TTL > 0 {
					e = e.WithTTL(op.TTL)
				}
				if err := txn.SetEntry(e); err != nil {
					return err
				}
			case OpDelete:
				if err := txn.Delete(full); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("broker: pipeline %s: %w", ns, err)
	}
	return nil
}

func (c *embeddedClient) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	c.mu.RLock()
	listeners := c.subs[channel]
	var count int64
	for sess := range listeners {
		select {
		case sess.out <- Message{Channel: channel, Payload: payload}:
			count++
		default:
			// slow subscriber, drop rather than block publish
		}
	}
	c.mu.RUnlock()
	return count, nil
}

func (c *embeddedClient) NumSub(ctx context.Context, channel string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.subs[channel])), nil
}

func (c *embeddedClient) NewPubSub(ctx context.Context) (PubSub, error) {
	return &embeddedPubSub{
		client:   c,
		out:      make(chan Message, 256),
		channels: make(map[string]struct{}),
	}, nil
}

func (c *embeddedClient) Ping(ctx context.Context) error { return nil }

func (c *embeddedClient) Close() error {
	return c.db.Close()
}

type embeddedPubSub struct {
	client *embeddedClient
	out    chan Message

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

func (s *embeddedPubSub) Subscribe(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("broker: pubsub session closed")
	}
	s.channels[channel] = struct{}{}

	s.client.mu.Lock()
	if s.client.subs[channel] == nil {
		s.client.subs[channel] = make(map[*embeddedPubSub]struct{})
	}
	s.client.subs[channel][s] = struct{}{}
	s.client.mu.Unlock()
	return nil
}

func (s *embeddedPubSub) Unsubscribe(ctx context.Context, channel string) error {
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()

	s.client.mu.Lock()
	if set, ok := s.client.subs[channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.client.subs, channel)
		}
	}
	s.client.mu.Unlock()
	return nil
}

func (s *embeddedPubSub) Channel() <-chan Message { return s.out }

func (s *embeddedPubSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	channels := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		_ = s.Unsubscribe(context.Background(), ch)
	}
	close(s.out)
	return nil
}
