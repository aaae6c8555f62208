package nv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unmnd/nv/internal/codec"
	"github.com/unmnd/nv/internal/nvconfig"
)

func newTestNode(t *testing.T, name string) *Node {
	t.Helper()
	ctx := context.Background()
	cfg := nvconfig.Config{Backend: nvconfig.BrokerBackendEmbedded}
	n, err := New(ctx, Options{Name: name, Config: &cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.DestroyNode(context.Background()) })
	return n
}

func TestPubSubRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newTestNode(t, "node-a")
	b := newTestNode(t, "node-b")

	values := []codec.Value{
		codec.String("Hello World"),
		codec.Int(123),
		codec.Float(123.456),
		codec.Sequence{codec.Int(1), codec.Int(2), codec.Int(3)},
		codec.Map{"key": codec.String("value")},
		codec.Bytes("Hello World"),
	}

	var mu sync.Mutex
	var received []codec.Value
	var wg sync.WaitGroup
	wg.Add(len(values))

	_, err := b.CreateSubscription(ctx, "pytest_test_topic", func(_ context.Context, v codec.Value) {
		mu.Lock()
		received = append(received, v)
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, err)

	for _, v := range values {
		_, err := a.Publish(ctx, "pytest_test_topic", v)
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all messages were delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, len(values))
}

func TestPubSubLargeSequence(t *testing.T) {
	ctx := context.Background()
	a := newTestNode(t, "node-a2")
	b := newTestNode(t, "node-b2")

	seq := make(codec.Sequence, 100000)
	for i := range seq {
		seq[i] = codec.String("Hello World")
	}

	done := make(chan codec.Value, 1)
	_, err := b.CreateSubscription(ctx, "big_topic", func(_ context.Context, v codec.Value) {
		done <- v
	})
	require.NoError(t, err)

	_, err = a.Publish(ctx, "big_topic", seq)
	require.NoError(t, err)

	select {
	case v := <-done:
		got, ok := v.(codec.Sequence)
		require.True(t, ok)
		require.Len(t, got, 100000)
	case <-time.After(3 * time.Second):
		t.Fatal("large sequence was not delivered")
	}
}

func TestServiceCallEndToEnd(t *testing.T) {
	ctx := context.Background()
	server := newTestNode(t, "server-node")
	client := newTestNode(t, "client-node")

	err := server.CreateService(ctx, "echo", func(ctx context.Context, args []codec.Value, kwargs map[string]codec.Value) (codec.Value, error) {
		return args[0], nil
	}, true)
	require.NoError(t, err)

	require.NoError(t, client.WaitForServiceReady(ctx, "echo", time.Second))

	result, err := client.CallService(ctx, "echo", []codec.Value{codec.String("ping")}, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, codec.String("ping"), result)
}

func TestDuplicateNodeNameRejected(t *testing.T) {
	ctx := context.Background()
	cfg := nvconfig.Config{Backend: nvconfig.BrokerBackendEmbedded}

	n1, err := New(ctx, Options{Name: "dupe-node", Config: &cfg})
	require.NoError(t, err)
	defer n1.DestroyNode(ctx)

	_, err = New(ctx, Options{Name: "dupe-node", Config: &cfg})
	require.Error(t, err)
}

func TestTopicResolutionWithWorkspace(t *testing.T) {
	ctx := context.Background()
	cfg := nvconfig.Config{Backend: nvconfig.BrokerBackendEmbedded}
	n, err := New(ctx, Options{Name: "ws-node", Workspace: "myws", Config: &cfg})
	require.NoError(t, err)
	defer n.DestroyNode(ctx)

	received := make(chan codec.Value, 1)
	_, err = n.CreateSubscription(ctx, "myws.sensor", func(_ context.Context, v codec.Value) {
		received <- v
	})
	require.NoError(t, err)

	_, err = n.Publish(ctx, "sensor", codec.Int(1))
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("workspace-prefixed topic did not resolve to the same channel")
	}
}

func TestGetLatestMessage(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, "latest-node")

	_, err := n.Publish(ctx, "status", codec.String("ok"))
	require.NoError(t, err)

	v, ok, err := n.GetLatestMessage(ctx, "status")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, codec.String("ok"), v)
}
