// Package registry manages a node's presence record: registration,
// periodic heartbeat renewal, startup collision detection, graceful
// deregistration, and the introspection queries that read every live
// node's record (list nodes, derive topics/services).
package registry

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unmnd/nv/internal/broker"
	"github.com/unmnd/nv/internal/lifecycle/looptimer"
	"github.com/unmnd/nv/internal/topic"
	"github.com/unmnd/nv/nverrors"
)

// RuntimeVersion is reported in every presence record's version field.
const RuntimeVersion = "nv-go/1.0"

// TTL is the presence record's broker expiry.
const TTL = 10 * time.Second

// HeartbeatInterval is how often the record is renewed, well inside TTL.
const HeartbeatInterval = 5 * time.Second

// collisionGrace bounds how long Register waits for a stale record left by
// a crashed prior instance to expire before giving up.
const collisionGrace = 10 * time.Second

// ProcessStats is the "ps" field of a presence record.
type ProcessStats struct {
	PID      int     `msgpack:"pid"`
	CPU      float64 `msgpack:"cpu"`
	MemoryRSS uint64 `msgpack:"memory_rss"`
	Platform string  `msgpack:"platform"`
	Language string  `msgpack:"language"`
}

// PresenceRecord is the per-node document stored in the nodes namespace.
type PresenceRecord struct {
	TimeRegistered float64            `msgpack:"time_registered"`
	TimeModified   float64            `msgpack:"time_modified"`
	RuntimeVersion string             `msgpack:"version"`
	Subscriptions  []string           `msgpack:"subscriptions"`
	Publishers     map[string]float64 `msgpack:"publishers"`
	Services       map[string]string  `msgpack:"services"`
	PS             ProcessStats       `msgpack:"ps"`
}

// Registry owns one node's presence record and mirrors its mutable
// constituents (subscriptions, publishers, services) in memory so a fresh
// record can be built and pushed without a broker round trip.
type Registry struct {
	broker broker.Client
	name   string

	startTime time.Time

	mu            sync.Mutex
	subscriptions map[string]struct{}
	publishers    map[string]float64
	services      map[string]string

	heartbeat *looptimer.LoopTimer
}

// New creates a Registry for name, bound to client. It does not register
// the presence record; call Register for that.
func New(client broker.Client, name string) *Registry {
	return &Registry{
		broker:        client,
		name:          name,
		subscriptions: make(map[string]struct{}),
		publishers:    make(map[string]float64),
		services:      make(map[string]string),
	}
}

// AddSubscription records that this node subscribes to channel.
func (r *Registry) AddSubscription(channel string) {
	r.mu.Lock()
	r.subscriptions[channel] = struct{}{}
	r.mu.Unlock()
}

// RemoveSubscription removes channel from this node's advertised
// subscriptions.
func (r *Registry) RemoveSubscription(channel string) {
	r.mu.Lock()
	delete(r.subscriptions, channel)
	r.mu.Unlock()
}

// RecordPublish notes that this node just published on channel, for the
// publishers map used by GetTopics.
func (r *Registry) RecordPublish(channel string) {
	r.mu.Lock()
	r.publishers[channel] = nowEpoch()
	r.mu.Unlock()
}

// AddService records that this node advertises service name at
// replyChannel.
func (r *Registry) AddService(name, replyChannel string) {
	r.mu.Lock()
	r.services[name] = replyChannel
	r.mu.Unlock()
}

// LocalRecord builds this node's current presence record from in-memory
// state, without a broker round trip.
func (r *Registry) LocalRecord() PresenceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]string, 0, len(r.subscriptions))
	for s := range r.subscriptions {
		subs = append(subs, s)
	}
	sort.Strings(subs)

	pubs := make(map[string]float64, len(r.publishers))
	for k, v := range r.publishers {
		pubs[k] = v
	}
	svcs := make(map[string]string, len(r.services))
	for k, v := range r.services {
		svcs[k] = v
	}

	return PresenceRecord{
		TimeRegistered: float64(r.startTime.Unix()),
		TimeModified:   nowEpoch(),
		RuntimeVersion: RuntimeVersion,
		Subscriptions:  subs,
		Publishers:     pubs,
		Services:       svcs,
		PS: ProcessStats{
			PID:      os.Getpid(),
			Platform: runtime.GOOS + "/" + runtime.GOARCH,
			Language: "go",
		},
	}
}

// Register performs startup collision detection and, if the name is free,
// writes the initial presence record and starts the heartbeat timer. It
// returns nverrors.ErrDuplicateNodeName if a live record still exists after
// the collision grace window.
func (r *Registry) Register(ctx context.Context) error {
	exists, err := r.NodeExists(ctx, r.name)
	if err != nil {
		return err
	}
	if exists {
		deadline := time.Now().Add(collisionGrace)
		for time.Now().Before(deadline) {
			time.Sleep(200 * time.Millisecond)
			exists, err = r.NodeExists(ctx, r.name)
			if err != nil {
				return err
			}
			if !exists {
				break
			}
		}
		if exists {
			return &nverrors.DuplicateNodeNameError{Name: r.name}
		}
	}

	r.startTime = time.Now()

	renew := func() {
		rec := r.LocalRecord()
		b, err := msgpack.Marshal(rec)
		if err != nil {
			return
		}
		_ = r.broker.Set(context.Background(), broker.NamespaceNodes, r.name, b, TTL)
	}

	r.heartbeat = looptimer.New(looptimer.Options{
		Interval:  HeartbeatInterval,
		Fn:        renew,
		Autostart: true,
		Immediate: true,
	})
	return nil
}

// PushNow writes the current in-memory record immediately, instead of
// waiting for the next heartbeat tick. Useful after AddService/AddSubscription
// so peers observe the change without a HeartbeatInterval delay.
func (r *Registry) PushNow(ctx context.Context) error {
	if r.startTime.IsZero() {
		return nil
	}
	rec := r.LocalRecord()
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("registry: marshal presence record: %w", err)
	}
	return r.broker.Set(ctx, broker.NamespaceNodes, r.name, b, TTL)
}

// Deregister stops the heartbeat and removes the presence record.
func (r *Registry) Deregister(ctx context.Context) error {
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	return r.broker.Delete(ctx, broker.NamespaceNodes, r.name)
}

// NodeExists reports whether a live presence record exists for name.
func (r *Registry) NodeExists(ctx context.Context, name string) (bool, error) {
	return r.broker.Exists(ctx, broker.NamespaceNodes, name)
}

// GetNodeInformation returns the presence record for name, or this node's
// own in-memory view if name is empty.
func (r *Registry) GetNodeInformation(ctx context.Context, name string) (PresenceRecord, error) {
	if name == "" {
		return r.LocalRecord(), nil
	}
	b, ok, err := r.broker.Get(ctx, broker.NamespaceNodes, name)
	if err != nil {
		return PresenceRecord{}, err
	}
	if !ok {
		return PresenceRecord{}, fmt.Errorf("registry: node %q not found", name)
	}
	var rec PresenceRecord
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return PresenceRecord{}, fmt.Errorf("registry: decode presence record for %q: %w", name, err)
	}
	return rec, nil
}

// GetNodes returns every live node's presence record, keyed by name.
func (r *Registry) GetNodes(ctx context.Context) (map[string]PresenceRecord, error) {
	names, err := r.broker.Scan(ctx, broker.NamespaceNodes, "*")
	if err != nil {
		return nil, err
	}
	out := make(map[string]PresenceRecord, len(names))
	for _, name := range names {
		rec, err := r.GetNodeInformation(ctx, name)
		if err != nil {
			continue
		}
		out[name] = rec
	}
	return out, nil
}

// GetNodesList returns the names of every live node.
func (r *Registry) GetNodesList(ctx context.Context) ([]string, error) {
	return r.broker.Scan(ctx, broker.NamespaceNodes, "*")
}

// GetTopics derives {topic: last_published} from every live node's
// publishers map, excluding service reply channels, keeping the max
// timestamp on collision.
func (r *Registry) GetTopics(ctx context.Context) (map[string]float64, error) {
	nodes, err := r.GetNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, rec := range nodes {
		for t, ts := range rec.Publishers {
			if topic.IsReplyChannel(t) {
				continue
			}
			if cur, ok := out[t]; !ok || ts > cur {
				out[t] = ts
			}
		}
	}
	return out, nil
}

// GetTopicSubscriptions returns the names of live nodes that declare a
// subscription to t.
func (r *Registry) GetTopicSubscriptions(ctx context.Context, t string) ([]string, error) {
	nodes, err := r.GetNodes(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for name, rec := range nodes {
		for _, sub := range rec.Subscriptions {
			if sub == t {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetServices unions the services map of every live node into
// {service_name: reply_channel_id}.
func (r *Registry) GetServices(ctx context.Context) (map[string]string, error) {
	nodes, err := r.GetNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, rec := range nodes {
		for name, ch := range rec.Services {
			out[name] = ch
		}
	}
	return out, nil
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
