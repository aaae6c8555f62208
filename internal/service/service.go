// Package service builds request/response calls on top of pub/sub: each
// server owns one reply channel per node, each call is tagged with a
// request id correlated to a pending completion slot, and large byte
// payloads are handed off through a broker KV side-channel rather than
// inlined.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unmnd/nv/internal/broker"
	"github.com/unmnd/nv/internal/codec"
	"github.com/unmnd/nv/internal/dispatcher"
	"github.com/unmnd/nv/internal/nvtime"
	"github.com/unmnd/nv/internal/registry"
	"github.com/unmnd/nv/internal/topic"
	"github.com/unmnd/nv/nverrors"
)

// DefaultTimeout is the call_service deadline when the caller doesn't
// specify one.
const DefaultTimeout = 10 * time.Second

// sideChannelPrefix marks a reply Data field that is a sentinel key into
// the topics namespace rather than an inline value.
const sideChannelPrefix = "NV_BYTES:"

// sideChannelTTL bounds how long an unclaimed large-byte reply lives in the
// broker.
const sideChannelTTL = 60 * time.Second

// Handler is a service implementation: it receives positional and keyword
// arguments and returns a result value or an error.
type Handler func(ctx context.Context, args []codec.Value, kwargs map[string]codec.Value) (codec.Value, error)

type binding struct {
	allowParallel bool
	mu            sync.Mutex
}

// Service is the request/response layer for one node.
type Service struct {
	nodeName string
	broker   broker.Client
	dispatch *dispatcher.Dispatcher
	reg      *registry.Registry

	replyChannel string
	log          zerolog.Logger

	mu       sync.Mutex
	pending  map[string]chan codec.Map
	bindings map[string]*binding // keyed by replyChannelID
}

// New creates a Service for nodeName and binds its single shared reply
// channel, so subscription count stays bounded regardless of call rate.
func New(ctx context.Context, client broker.Client, d *dispatcher.Dispatcher, reg *registry.Registry, nodeName string, log zerolog.Logger) (*Service, error) {
	s := &Service{
		nodeName:     nodeName,
		broker:       client,
		dispatch:     d,
		reg:          reg,
		replyChannel: topic.ReplyPrefix + uuid.New().String(),
		log:          log,
		pending:      make(map[string]chan codec.Map),
		bindings:     make(map[string]*binding),
	}

	_, err := d.Subscribe(ctx, s.replyChannel, s.handleReply)
	if err != nil {
		return nil, fmt.Errorf("service: bind reply channel: %w", err)
	}
	return s, nil
}

func (s *Service) handleReply(ctx context.Context, v codec.Value) {
	m, ok := v.(codec.Map)
	if !ok {
		return
	}
	reqID, ok := m["request_id"].(codec.String)
	if !ok {
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[string(reqID)]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- m:
	default:
	}
}

// CreateService registers name as a callable service on this node. If
// allowParallel is false, concurrent invocations serialize on a mutex;
// contention is logged by the caller's handler, never refused.
func (s *Service) CreateService(ctx context.Context, name string, handler Handler, allowParallel bool) error {
	replyChannelID := topic.ReplyPrefix + uuid.New().String()
	b := &binding{allowParallel: allowParallel}

	s.mu.Lock()
	s.bindings[replyChannelID] = b
	s.mu.Unlock()

	_, err := s.dispatch.Subscribe(ctx, replyChannelID, func(cbCtx context.Context, v codec.Value) {
		s.serve(cbCtx, name, b, handler, v)
	})
	if err != nil {
		return fmt.Errorf("service: subscribe %q: %w", name, err)
	}

	s.reg.AddService(name, replyChannelID)
	return s.reg.PushNow(ctx)
}

func (s *Service) serve(ctx context.Context, name string, b *binding, handler Handler, v codec.Value) {
	req, ok := v.(codec.Map)
	if !ok {
		return
	}
	responseTopic, _ := req["response_topic"].(codec.String)
	requestID, _ := req["request_id"].(codec.String)

	var args []codec.Value
	if seq, ok := req["args"].(codec.Sequence); ok {
		args = []codec.Value(seq)
	}
	kwargs := map[string]codec.Value{}
	if m, ok := req["kwargs"].(codec.Map); ok {
		kwargs = m
	}

	if !b.allowParallel {
		b.mu.Lock()
		defer b.mu.Unlock()
	}

	start := time.Now()
	result, err := handler(ctx, args, kwargs)
	elapsed := time.Since(start)

	s.log.Debug().
		Str("service", name).
		Str("elapsed", nvtime.FormatDuration(elapsed)).
		Msg("service call handled")

	reply := codec.Map{
		"request_id": requestID,
		"timings":    codec.Map{"start": req["timings"], "end": codec.Float(nowEpoch())},
	}
	if err != nil {
		reply["result"] = codec.String("error")
		reply["data"] = codec.String(err.Error())
	} else {
		reply["result"] = codec.String("success")
		reply["data"] = s.maybeSideChannel(ctx, result)
	}

	payload, encErr := codec.Encode(reply)
	if encErr != nil {
		return
	}
	_, _ = s.broker.Publish(ctx, string(responseTopic), payload)
}

// maybeSideChannel writes raw byte results to the broker KV side-channel
// and returns the sentinel key in their place, so large binary payloads
// never ride inline through pub/sub.
func (s *Service) maybeSideChannel(ctx context.Context, v codec.Value) codec.Value {
	b, ok := v.(codec.Bytes)
	if !ok {
		return v
	}
	key := sideChannelPrefix + uuid.New().String()
	if err := s.broker.Set(ctx, broker.NamespaceTopics, key, []byte(b), sideChannelTTL); err != nil {
		return v
	}
	return codec.String(key)
}

// CallService invokes name with args/kwargs and waits up to timeout for a
// reply. timeout <= 0 means DefaultTimeout.
func (s *Service) CallService(ctx context.Context, name string, args []codec.Value, kwargs map[string]codec.Value, timeout time.Duration) (codec.Value, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	services, err := s.reg.GetServices(ctx)
	if err != nil {
		return nil, err
	}
	replyChannelID, ok := services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", nverrors.ErrServiceNotFound, name)
	}

	requestID := uuid.New().String()
	resultCh := make(chan codec.Map, 1)
	s.mu.Lock()
	s.pending[requestID] = resultCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
	}()

	if args == nil {
		args = []codec.Value{}
	}
	if kwargs == nil {
		kwargs = map[string]codec.Value{}
	}

	request := codec.Map{
		"timings":        codec.Map{"start": codec.Float(nowEpoch())},
		"response_topic": codec.String(s.replyChannel),
		"request_id":     codec.String(requestID),
		"args":           codec.Sequence(args),
		"kwargs":         codec.Map(kwargs),
	}
	payload, err := codec.Encode(request)
	if err != nil {
		return nil, err
	}
	if _, err := s.broker.Publish(ctx, replyChannelID, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-resultCh:
		return s.resolveReply(ctx, name, reply)
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w: %q", nverrors.ErrServiceTimeout, name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) resolveReply(ctx context.Context, name string, reply codec.Map) (codec.Value, error) {
	result, _ := reply["result"].(codec.String)
	if result == "error" {
		msg, _ := reply["data"].(codec.String)
		return nil, &nverrors.ServiceError{Service: name, Message: string(msg)}
	}

	data := reply["data"]
	if key, ok := data.(codec.String); ok && len(key) > len(sideChannelPrefix) && string(key[:len(sideChannelPrefix)]) == sideChannelPrefix {
		b, ok, err := s.broker.Get(ctx, broker.NamespaceTopics, string(key))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("service: side-channel key %q expired before fetch", key)
		}
		_ = s.broker.Delete(ctx, broker.NamespaceTopics, string(key))
		return codec.Bytes(b), nil
	}
	return data, nil
}

// WaitForServiceReady polls the services map at ~100ms intervals until name
// is visible or timeout elapses.
func (s *Service) WaitForServiceReady(ctx context.Context, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		services, err := s.reg.GetServices(ctx)
		if err != nil {
			return err
		}
		if _, ok := services[name]; ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %q", nverrors.ErrServiceNotFound, name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
