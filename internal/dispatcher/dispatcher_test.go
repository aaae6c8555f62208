package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/unmnd/nv/internal/broker"
	"github.com/unmnd/nv/internal/codec"
)

func TestMultipleCallbacksPerTopic(t *testing.T) {
	ctx := context.Background()
	b, err := broker.NewEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	d := New(b)
	t.Cleanup(func() { _ = d.Close() })

	var mu sync.Mutex
	var gotA, gotB []codec.Value
	var wg sync.WaitGroup
	wg.Add(2)

	_, err = d.Subscribe(ctx, "topic.x", func(ctx context.Context, v codec.Value) {
		mu.Lock()
		gotA = append(gotA, v)
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, err)

	_, err = d.Subscribe(ctx, "topic.x", func(ctx context.Context, v codec.Value) {
		mu.Lock()
		gotB = append(gotB, v)
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, err)

	payload, err := codec.Encode(codec.String("hello"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, "topic.x", payload)
	require.NoError(t, err)

	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	require.Equal(t, codec.String("hello"), gotA[0])
}

func TestUnsubscribeOneLeavesOthers(t *testing.T) {
	ctx := context.Background()
	b, err := broker.NewEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	d := New(b)
	t.Cleanup(func() { _ = d.Close() })

	var mu sync.Mutex
	var calls int

	sub1, err := d.Subscribe(ctx, "topic.y", func(ctx context.Context, v codec.Value) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	_, err = d.Subscribe(ctx, "topic.y", func(ctx context.Context, v codec.Value) {
		mu.Lock()
		calls++
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, err)

	require.NoError(t, sub1.Unsubscribe(ctx))

	payload, err := codec.Encode(codec.String("x"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, "topic.y", payload)
	require.NoError(t, err)

	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestSharedReturnsProcessWideSingleton(t *testing.T) {
	ctx := context.Background()
	b, err := broker.NewEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	first := Shared(b)

	other, err := broker.NewEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	second := Shared(other)
	require.Same(t, first, second, "Shared must ignore the client argument once initialized")

	var wg sync.WaitGroup
	wg.Add(1)
	_, err = first.Subscribe(ctx, "shared.singleton.topic", func(ctx context.Context, v codec.Value) {
		wg.Done()
	})
	require.NoError(t, err)

	payload, err := codec.Encode(codec.String("hi"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, "shared.singleton.topic", payload)
	require.NoError(t, err)

	waitOrTimeout(t, &wg)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callbacks")
	}
}
