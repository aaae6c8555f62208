package broker

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/redis/go-redis/v9"
)

// namespaceDB assigns each logical namespace its own Redis logical
// database, exactly as the original node connected three separate Redis
// handles for topics/parameters/nodes (transforms reserved as the fourth).
var namespaceDB = map[Namespace]int{
	NamespaceTopics:     0,
	NamespaceParameters: 1,
	NamespaceTransforms: 2,
	NamespaceNodes:      3,
}

// RedisOptions configures the production broker backend.
type RedisOptions struct {
	// Addr is host:port. Ignored if UnixSocket is set.
	Addr string
	// UnixSocket, if non-empty, takes precedence over Addr.
	UnixSocket string
	Password   string
}

type redisClient struct {
	opts RedisOptions
	dbs  map[Namespace]*redis.Client
	// topics is dbs[NamespaceTopics]; pub/sub always goes through it since
	// Redis pub/sub is channel-namespaced across the whole server, not
	// per logical DB.
	topics *redis.Client
}

// NewRedis dials one *redis.Client per logical namespace against the same
// server, sharing connection options.
func NewRedis(opts RedisOptions) (Client, error) {
	dbs := make(map[Namespace]*redis.Client, len(namespaceDB))
	for ns, db := range namespaceDB {
		o := &redis.Options{Password: opts.Password, DB: db}
		if opts.UnixSocket != "" {
			o.Network = "unix"
			o.Addr = opts.UnixSocket
		} else {
			o.Network = "tcp"
			o.Addr = opts.Addr
		}
		dbs[ns] = redis.NewClient(o)
	}
	return &redisClient{opts: opts, dbs: dbs, topics: dbs[NamespaceTopics]}, nil
}

func (c *redisClient) db(ns Namespace) *redis.Client {
	if cl, ok := c.dbs[ns]; ok {
		return cl
	}
	return c.topics
}

func (c *redisClient) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	b, err := c.db(ns).Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("broker: get %s/%s: %w", ns, key, err)
	}
	return b, true, nil
}

func (c *redisClient) Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if err := c.db(ns).Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("broker: set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (c *redisClient) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := c.db(ns).Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("broker: delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (c *redisClient) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	n, err := c.db(ns).Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("broker: exists %s/%s: %w", ns, key, err)
	}
	return n > 0, nil
}

func (c *redisClient) Scan(ctx context.Context, ns Namespace, globPattern string) ([]string, error) {
	var keys []string
	iter := c.db(ns).Scan(ctx, 0, globPattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("broker: scan %s/%s: %w", ns, globPattern, err)
	}
	return keys, nil
}

func (c *redisClient) Pipeline(ctx context.Context, ns Namespace, ops []Op) error {
	pipe := c.db(ns).Pipeline()
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			pipe.Set(ctx, op.Key, op.Value, op.TTL)
		case OpDelete:
			pipe.Del(ctx, op.Key)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("broker: pipeline %s: %w", ns, err)
	}
	return nil
}

func (c *redisClient) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	n, err := c.topics.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: publish %s: %w", channel, err)
	}
	return n, nil
}

func (c *redisClient) NumSub(ctx context.Context, channel string) (int64, error) {
	res, err := c.topics.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: numsub %s: %w", channel, err)
	}
	return res[channel], nil
}

func (c *redisClient) NewPubSub(ctx context.Context) (PubSub, error) {
	ps := c.topics.Subscribe(ctx)
	rp := &redisPubSub{ps: ps, out: make(chan Message, 256), done: make(chan struct{})}
	go rp.pump()
	return rp, nil
}

func (c *redisClient) Ping(ctx context.Context) error {
	if err := c.topics.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker: ping: %w", err)
	}
	return nil
}

func (c *redisClient) Close() error {
	var firstErr error
	for _, cl := range c.dbs {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type redisPubSub struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
}

func (r *redisPubSub) pump() {
	defer close(r.out)
	ch := r.ps.Channel()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case r.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-r.done:
				return
			}
		}
	}
}

func (r *redisPubSub) Subscribe(ctx context.Context, channel string) error {
	return r.ps.Subscribe(ctx, channel)
}

func (r *redisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	return r.ps.Unsubscribe(ctx, channel)
}

func (r *redisPubSub) Channel() <-chan Message { return r.out }

func (r *redisPubSub) Close() error {
	close(r.done)
	return r.ps.Close()
}

// matchGlob reports whether name matches the shell-style glob pattern,
// used by backends (embedded) that don't have native glob-matching SCAN.
func matchGlob(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
