// Package nv is the node client runtime: application code constructs a
// Node, which wires together broker connectivity, presence/heartbeat,
// pub/sub dispatch, request/response services, and the parameter store
// behind one facade mirroring the original runtime's node API.
package nv

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unmnd/nv/internal/broker"
	"github.com/unmnd/nv/internal/codec"
	"github.com/unmnd/nv/internal/dispatcher"
	"github.com/unmnd/nv/internal/lifecycle"
	"github.com/unmnd/nv/internal/nvconfig"
	"github.com/unmnd/nv/internal/nvlog"
	"github.com/unmnd/nv/internal/paramstore"
	"github.com/unmnd/nv/internal/registry"
	"github.com/unmnd/nv/internal/service"
	"github.com/unmnd/nv/internal/topic"
)

// Options configures Node construction. All fields are optional; zero
// values fall back to environment-driven defaults (see internal/nvconfig).
type Options struct {
	// Name is this node's identity. If empty, a random "adjective_noun"
	// name is generated.
	Name string

	// Workspace overrides NV_WORKSPACE when non-empty.
	Workspace string

	// Config overrides the environment-resolved configuration entirely.
	// Leave zero to call nvconfig.Load().
	Config *nvconfig.Config

	// KeepOldParameters, if false (the default), deletes this node's
	// parameter subtree on startup instead of inheriting a prior run's
	// values.
	KeepOldParameters bool

	// NodeCondition, if set, gates startup: New blocks, polling every
	// NodeConditionInterval (default 10s), until it returns true.
	NodeCondition         func() bool
	NodeConditionInterval time.Duration
}

// Node is the application-facing runtime handle for one node identity.
type Node struct {
	name      string
	workspace string

	broker     broker.Client
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Registry
	service    *service.Service
	params     *paramstore.Store
	lifecycle  *lifecycle.Manager
	log        zerolog.Logger
}

// New performs the full startup sequence: install signal handlers, wait on
// an optional node_condition gate, connect the broker, detect name
// collisions, register presence and start the heartbeat, optionally clear
// stale parameters, and bind the service reply channel plus the
// remote-termination subscription.
func New(ctx context.Context, opts Options) (*Node, error) {
	cfg := nvconfig.Load()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	workspace := cfg.Workspace
	if opts.Workspace != "" {
		workspace = opts.Workspace
	}
	name := opts.Name
	if name == "" {
		name = registry.GenerateName()
	}

	log := nvlog.New(name, cfg.LogLevel, cfg.LogPretty)

	lc := lifecycle.New(name)
	lc.StartSignals(ctx)

	interval := opts.NodeConditionInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if err := lc.WaitCondition(ctx, interval, opts.NodeCondition); err != nil {
		return nil, fmt.Errorf("nv: node_condition gate: %w", err)
	}

	client, err := broker.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(client, name)
	if err := reg.Register(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	params := paramstore.New(client, name)
	if !opts.KeepOldParameters {
		if err := params.DeleteAll(ctx, name); err != nil {
			log.Warn().Err(err).Msg("failed to clear stale parameters on startup")
		}
	}

	d := dispatcher.Shared(client)
	svc, err := service.New(ctx, client, d, reg, name, log)
	if err != nil {
		_ = reg.Deregister(ctx)
		_ = client.Close()
		return nil, err
	}

	if err := lc.BindRemoteTermination(ctx, d); err != nil {
		_ = reg.Deregister(ctx)
		_ = client.Close()
		return nil, err
	}

	log.Info().Str("name", name).Msg("node registered")

	return &Node{
		name:       name,
		workspace:  workspace,
		broker:     client,
		dispatcher: d,
		registry:   reg,
		service:    svc,
		params:     params,
		lifecycle:  lc,
		log:        log,
	}, nil
}

// Name returns this node's identity.
func (n *Node) Name() string { return n.name }

// Subscription is a handle to a single (topic, callback) registration.
type Subscription struct {
	inner   dispatcher.Subscription
	channel string
	node    *Node
}

// Unsubscribe removes exactly this callback. If it was the last callback
// registered for the channel, the broker SUBSCRIBE is also undone.
func (s Subscription) Unsubscribe(ctx context.Context) error {
	s.node.registry.RemoveSubscription(s.channel)
	return s.inner.Unsubscribe(ctx)
}

// Callback receives a decoded message published on a subscribed topic.
type Callback func(ctx context.Context, value codec.Value)

// CreateSubscription resolves name and registers fn to receive every
// message published on it.
func (n *Node) CreateSubscription(ctx context.Context, name string, fn Callback) (Subscription, error) {
	resolved := topic.Resolve(n.workspace, n.name, name)
	sub, err := n.dispatcher.Subscribe(ctx, resolved, dispatcher.Subscriber(fn))
	if err != nil {
		return Subscription{}, err
	}
	n.registry.AddSubscription(resolved)
	return Subscription{inner: sub, channel: resolved, node: n}, nil
}

// Publish resolves name, records the publish time in this node's presence
// record, and broadcasts value. It returns the broker's subscriber count
// for diagnostics.
func (n *Node) Publish(ctx context.Context, name string, value codec.Value) (int64, error) {
	resolved := topic.Resolve(n.workspace, n.name, name)
	n.registry.RecordPublish(resolved)

	payload, err := codec.Encode(value)
	if err != nil {
		return 0, err
	}
	count, err := n.broker.Publish(ctx, resolved, payload)
	if err != nil {
		return 0, err
	}
	if !topic.IsReplyChannel(resolved) {
		if err := n.broker.Set(ctx, broker.NamespaceTopics, resolved, payload, 0); err != nil {
			n.log.Warn().Err(err).Str("topic", resolved).Msg("failed to persist latest message")
		}
	}
	return count, nil
}

// GetLatestMessage returns the last value published on name, independent of
// any live subscription.
func (n *Node) GetLatestMessage(ctx context.Context, name string) (codec.Value, bool, error) {
	resolved := topic.Resolve(n.workspace, n.name, name)
	b, ok, err := n.broker.Get(ctx, broker.NamespaceTopics, resolved)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := codec.Decode(b)
	return v, true, err
}

// HasSubscribers reports the broker's current subscriber count for name,
// which also counts listeners not registered through this Node (e.g. CLI
// tooling).
func (n *Node) HasSubscribers(ctx context.Context, name string) (int64, error) {
	resolved := topic.Resolve(n.workspace, n.name, name)
	return n.dispatcher.NumSub(ctx, resolved)
}

// CreateService registers name as a callable service on this node.
func (n *Node) CreateService(ctx context.Context, name string, handler service.Handler, allowParallel bool) error {
	return n.service.CreateService(ctx, name, handler, allowParallel)
}

// CallService invokes name on whichever live node advertises it.
func (n *Node) CallService(ctx context.Context, name string, args []codec.Value, kwargs map[string]codec.Value, timeout time.Duration) (codec.Value, error) {
	return n.service.CallService(ctx, name, args, kwargs, timeout)
}

// WaitForServiceReady blocks until name is visible in the registry or
// timeout elapses.
func (n *Node) WaitForServiceReady(ctx context.Context, name string, timeout time.Duration) error {
	return n.service.WaitForServiceReady(ctx, name, timeout)
}

// GetParameter returns the value stored at name on node (this node if
// empty). A missing parameter yields codec.Null{} unless failIfNotFound is
// set, in which case it yields *nverrors.ParameterNotFoundError.
func (n *Node) GetParameter(ctx context.Context, node, name string, failIfNotFound bool) (codec.Value, error) {
	return n.params.Get(ctx, node, name, failIfNotFound)
}

// GetParameterDescription returns the description attached to name on node.
func (n *Node) GetParameterDescription(ctx context.Context, node, name string) (string, error) {
	return n.params.GetDescription(ctx, node, name)
}

// GetParameters lists {short_name: value} for every parameter on node
// matching globPattern ("*" for all).
func (n *Node) GetParameters(ctx context.Context, node, globPattern string) (map[string]codec.Value, error) {
	return n.params.List(ctx, node, globPattern)
}

// SetParameter stores value at name on node with an optional description.
func (n *Node) SetParameter(ctx context.Context, node, name string, value codec.Value, description string) error {
	return n.params.Set(ctx, node, name, value, description)
}

// SetParameters pipelines a batch of parameter writes for node.
func (n *Node) SetParameters(ctx context.Context, node string, entries []paramstore.Entry) error {
	return n.params.SetMany(ctx, node, entries)
}

// SetParametersFromFile loads a JSON or YAML parameter file and writes
// every flattened, condition-passing parameter it describes.
func (n *Node) SetParametersFromFile(ctx context.Context, path string) error {
	return n.params.SetFromFile(ctx, path)
}

// DeleteParameter removes name from node.
func (n *Node) DeleteParameter(ctx context.Context, node, name string) error {
	return n.params.Delete(ctx, node, name)
}

// DeleteAllParameters removes every parameter on node.
func (n *Node) DeleteAllParameters(ctx context.Context, node string) error {
	return n.params.DeleteAll(ctx, node)
}

// NodeExists reports whether a live presence record exists for name.
func (n *Node) NodeExists(ctx context.Context, name string) (bool, error) {
	return n.registry.NodeExists(ctx, name)
}

// GetNodeInformation returns the presence record for name, or this node's
// own in-memory view if name is empty.
func (n *Node) GetNodeInformation(ctx context.Context, name string) (registry.PresenceRecord, error) {
	return n.registry.GetNodeInformation(ctx, name)
}

// GetNodes returns every live node's presence record, keyed by name.
func (n *Node) GetNodes(ctx context.Context) (map[string]registry.PresenceRecord, error) {
	return n.registry.GetNodes(ctx)
}

// GetNodesList returns the names of every live node.
func (n *Node) GetNodesList(ctx context.Context) ([]string, error) {
	return n.registry.GetNodesList(ctx)
}

// GetTopics derives {topic: last_published} from every live node's
// presence record, excluding service reply channels.
func (n *Node) GetTopics(ctx context.Context) (map[string]float64, error) {
	return n.registry.GetTopics(ctx)
}

// GetTopicSubscriptions returns the names of live nodes subscribed to t.
func (n *Node) GetTopicSubscriptions(ctx context.Context, t string) ([]string, error) {
	return n.registry.GetTopicSubscriptions(ctx, t)
}

// GetServices unions the services map of every live node.
func (n *Node) GetServices(ctx context.Context) (map[string]string, error) {
	return n.registry.GetServices(ctx)
}

// Spin blocks until shutdown is requested (by signal, remote termination,
// or an explicit DestroyNode from another goroutine).
func (n *Node) Spin() {
	n.lifecycle.Wait()
}

// Stopped returns the channel that closes once shutdown has been
// requested, for callers that want to select on it alongside other work.
func (n *Node) Stopped() <-chan struct{} {
	return n.lifecycle.Stopped()
}

// DestroyNode performs graceful shutdown: stop the heartbeat, delete the
// presence record, signal the lifecycle stopped event, and release this
// node's hold on the broker connection. In-flight callback workers are not
// cancelled. The dispatcher is a process-wide singleton shared by every
// Node in this process (see internal/dispatcher.Shared) and is
// deliberately never closed here — tearing it down would break every other
// live Node sharing it.
func (n *Node) DestroyNode(ctx context.Context) error {
	if err := n.registry.Deregister(ctx); err != nil {
		n.log.Warn().Err(err).Msg("failed to deregister presence record")
	}
	n.lifecycle.Stop()
	return n.broker.Close()
}
