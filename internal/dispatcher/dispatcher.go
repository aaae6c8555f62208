// Package dispatcher owns the single shared receive loop over a broker's
// pub/sub plane, demultiplexing incoming frames to per-channel callback
// lists and running each callback on its own worker so a blocking callback
// can never stall delivery to other channels.
//
// Shared returns one Dispatcher for the whole process, bound to the broker
// Client of its first caller, so every Node in the process uses it,
// mirroring the original runtime's process-wide class-level subscription
// object.
package dispatcher

import (
	"context"
	"sync"

	"github.com/unmnd/nv/internal/broker"
	"github.com/unmnd/nv/internal/codec"
)

// Subscriber receives a decoded message for a channel it subscribed to.
type Subscriber func(ctx context.Context, value codec.Value)

// Subscription is a handle returned by Subscribe; call Unsubscribe to stop
// receiving deliveries for it without affecting other subscribers of the
// same channel.
type Subscription struct {
	channel string
	id      uint64
	d       *Dispatcher
}

// Unsubscribe removes exactly this (channel, callback) pair. If it was the
// last callback for the channel, the dispatcher also issues a broker
// UNSUBSCRIBE.
func (s Subscription) Unsubscribe(ctx context.Context) error {
	return s.d.unsubscribeOne(ctx, s.channel, s.id)
}

type entry struct {
	id uint64
	fn Subscriber
}

// Dispatcher is safe for concurrent use. The receive loop is lazily
// started on first Subscribe and runs until Close.
type Dispatcher struct {
	broker broker.Client

	mu        sync.RWMutex
	listeners map[string][]entry
	nextID    uint64

	startOnce sync.Once
	pubsub    broker.PubSub
	done      chan struct{}
}

// New creates a Dispatcher bound to client. The receive loop does not start
// until the first Subscribe call.
func New(client broker.Client) *Dispatcher {
	return &Dispatcher{
		broker:    client,
		listeners: make(map[string][]entry),
		done:      make(chan struct{}),
	}
}

var (
	sharedMu   sync.RWMutex
	sharedInst *Dispatcher
)

// Shared returns the process-wide Dispatcher singleton, binding it to
// client the first time it's called. Every later call returns that same
// instance regardless of the client argument passed in: one long-lived
// receive loop per process, shared across every Node instance in it,
// exactly as the original runtime's process-wide subscription object
// worked.
func Shared(client broker.Client) *Dispatcher {
	sharedMu.RLock()
	inst := sharedInst
	sharedMu.RUnlock()
	if inst != nil {
		return inst
	}

	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedInst == nil {
		sharedInst = New(client)
	}
	return sharedInst
}

// Subscribe registers fn to receive every message published on channel. If
// this is the first subscriber for channel, the dispatcher also issues a
// broker SUBSCRIBE.
func (d *Dispatcher) Subscribe(ctx context.Context, channel string, fn Subscriber) (Subscription, error) {
	if err := d.ensureStarted(ctx); err != nil {
		return Subscription{}, err
	}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	first := len(d.listeners[channel]) == 0
	d.listeners[channel] = append(d.listeners[channel], entry{id: id, fn: fn})
	d.mu.Unlock()

	if first {
		if err := d.pubsub.Subscribe(ctx, channel); err != nil {
			return Subscription{}, err
		}
	}
	return Subscription{channel: channel, id: id, d: d}, nil
}

// Unsubscribe removes every callback registered for channel and issues a
// broker UNSUBSCRIBE.
func (d *Dispatcher) Unsubscribe(ctx context.Context, channel string) error {
	d.mu.Lock()
	delete(d.listeners, channel)
	d.mu.Unlock()

	if d.pubsub != nil {
		return d.pubsub.Unsubscribe(ctx, channel)
	}
	return nil
}

func (d *Dispatcher) unsubscribeOne(ctx context.Context, channel string, id uint64) error {
	d.mu.Lock()
	entries := d.listeners[channel]
	out := entries[:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	empty := len(out) == 0
	if empty {
		delete(d.listeners, channel)
	} else {
		d.listeners[channel] = out
	}
	d.mu.Unlock()

	if empty && d.pubsub != nil {
		return d.pubsub.Unsubscribe(ctx, channel)
	}
	return nil
}

// NumSub returns the broker's subscriber count for channel, which also
// counts listeners not registered through this dispatcher (e.g. CLI
// tooling).
func (d *Dispatcher) NumSub(ctx context.Context, channel string) (int64, error) {
	return d.broker.NumSub(ctx, channel)
}

func (d *Dispatcher) ensureStarted(ctx context.Context) error {
	var startErr error
	d.startOnce.Do(func() {
		ps, err := d.broker.NewPubSub(ctx)
		if err != nil {
			startErr = err
			return
		}
		d.pubsub = ps
		go d.receiveLoop()
	})
	return startErr
}

// receiveLoop is the single long-lived task per process: it reads frames
// from the broker subscription multiplexer and spawns one worker per
// registered callback for the frame's channel. It never blocks on a
// callback's completion.
func (d *Dispatcher) receiveLoop() {
	for {
		select {
		case <-d.done:
			return
		case msg, ok := <-d.pubsub.Channel():
			if !ok {
				return
			}
			value, err := codec.Decode(msg.Payload)
			if err != nil {
				value = codec.Bytes(msg.Payload)
			}

			d.mu.RLock()
			entries := append([]entry(nil), d.listeners[msg.Channel]...)
			d.mu.RUnlock()

			for _, e := range entries {
				fn := e.fn
				go func() {
					defer recoverCallback()
					fn(context.Background(), value)
				}()
			}
		}
	}
}

func recoverCallback() {
	// A panicking subscriber callback must not take down the shared
	// receive loop or any other subscriber's delivery.
	_ = recover()
}

// Close stops the receive loop. In-flight callback workers are allowed to
// finish; they are not forcibly cancelled.
func (d *Dispatcher) Close() error {
	close(d.done)
	if d.pubsub != nil {
		return d.pubsub.Close()
	}
	return nil
}
