// Package lifecycle owns a node's single "please stop" signal: OS signal
// handling, an optional node_condition readiness gate, and a subscription
// to remote termination requests, all converging on one stop event that
// every long-running loop in the node observes.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/unmnd/nv/internal/broker"
	"github.com/unmnd/nv/internal/codec"
	"github.com/unmnd/nv/internal/dispatcher"
)

// TerminateTopic is the well-known channel remote callers publish to in
// order to request a specific node's shutdown.
const TerminateTopic = "nv_terminate"

// Manager coordinates every source of a stop request for one node.
type Manager struct {
	nodeName string

	mu      sync.Mutex
	stopped chan struct{}
	once    sync.Once

	sigCh chan os.Signal
}

// New creates a Manager for nodeName. Call Start to begin observing OS
// signals and remote termination requests.
func New(nodeName string) *Manager {
	return &Manager{
		nodeName: nodeName,
		stopped:  make(chan struct{}),
	}
}

// StartSignals begins watching for SIGINT/SIGTERM, the first step of node
// startup, done before the broker connection even exists.
func (m *Manager) StartSignals(ctx context.Context) {
	m.sigCh = make(chan os.Signal, 1)
	signal.Notify(m.sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-m.sigCh:
			m.Stop()
		case <-ctx.Done():
		case <-m.stopped:
		}
	}()
}

// BindRemoteTermination subscribes to TerminateTopic, the last step of node
// startup, done once presence is registered.
func (m *Manager) BindRemoteTermination(ctx context.Context, d *dispatcher.Dispatcher) error {
	_, err := d.Subscribe(ctx, TerminateTopic, func(_ context.Context, v codec.Value) {
		msg, ok := v.(codec.Map)
		if !ok {
			return
		}
		name, ok := msg["node"].(codec.String)
		if !ok {
			return
		}
		if string(name) == m.nodeName {
			m.Stop()
		}
	})
	return err
}

// Start is a convenience wrapper combining StartSignals and
// BindRemoteTermination, for callers that don't need the startup sequence
// split across steps.
func (m *Manager) Start(ctx context.Context, d *dispatcher.Dispatcher) error {
	m.StartSignals(ctx)
	if d == nil {
		return nil
	}
	return m.BindRemoteTermination(ctx, d)
}

// RequestTermination publishes a remote shutdown request for nodeName on
// TerminateTopic.
func RequestTermination(ctx context.Context, client broker.Client, nodeName, reason string) error {
	payload, err := codec.Encode(codec.Map{
		"node":   codec.String(nodeName),
		"reason": codec.String(reason),
	})
	if err != nil {
		return err
	}
	_, err = client.Publish(ctx, TerminateTopic, payload)
	return err
}

// Stop signals every observer of Stopped. Safe to call multiple times and
// from multiple goroutines.
func (m *Manager) Stop() {
	m.once.Do(func() {
		signal.Stop(m.sigCh)
		close(m.stopped)
	})
}

// Stopped returns the channel that closes exactly once, when shutdown has
// been requested by any source (signal, remote, or explicit Stop call).
func (m *Manager) Stopped() <-chan struct{} {
	return m.stopped
}

// Wait blocks until shutdown is requested.
func (m *Manager) Wait() {
	<-m.stopped
}

// WaitCondition polls cond every interval until it returns true or the
// manager's stop event fires, whichever happens first. It mirrors the
// runtime's node_condition startup gate: a node that depends on an external
// readiness signal blocks here before registering.
func (m *Manager) WaitCondition(ctx context.Context, interval time.Duration, cond func() bool) error {
	if cond == nil || cond() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopped:
			return nil
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}
