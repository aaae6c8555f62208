package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/unmnd/nv/internal/broker"
	"github.com/unmnd/nv/internal/codec"
	"github.com/unmnd/nv/internal/dispatcher"
	"github.com/unmnd/nv/internal/registry"
	"github.com/unmnd/nv/nverrors"
)

func newTestStack(t *testing.T, nodeName string) (*Service, *registry.Registry) {
	t.Helper()
	ctx := context.Background()

	b, err := broker.NewEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	d := dispatcher.New(b)
	reg := registry.New(b, nodeName)
	require.NoError(t, reg.Register(ctx))
	t.Cleanup(func() { _ = reg.Deregister(ctx) })

	svc, err := New(ctx, b, d, reg, nodeName, zerolog.Nop())
	require.NoError(t, err)
	return svc, reg
}

func TestCallServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestStack(t, "caller")

	err := svc.CreateService(ctx, "add", func(ctx context.Context, args []codec.Value, kwargs map[string]codec.Value) (codec.Value, error) {
		a := int64(args[0].(codec.Int))
		b := int64(args[1].(codec.Int))
		return codec.Int(a + b), nil
	}, true)
	require.NoError(t, err)

	result, err := svc.CallService(ctx, "add", []codec.Value{codec.Int(2), codec.Int(3)}, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, codec.Int(5), result)
}

func TestCallServiceUnknownName(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestStack(t, "caller2")

	_, err := svc.CallService(ctx, "missing", nil, nil, 200*time.Millisecond)
	require.ErrorIs(t, err, nverrors.ErrServiceNotFound)
}

func TestCallServicePropagatesHandlerError(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestStack(t, "caller3")

	err := svc.CreateService(ctx, "boom", func(ctx context.Context, args []codec.Value, kwargs map[string]codec.Value) (codec.Value, error) {
		return nil, require.AnError
	}, true)
	require.NoError(t, err)

	_, err = svc.CallService(ctx, "boom", nil, nil, time.Second)
	require.Error(t, err)
	var svcErr *nverrors.ServiceError
	require.ErrorAs(t, err, &svcErr)
}

func TestCallServiceBytesUseSideChannel(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestStack(t, "caller4")

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	err := svc.CreateService(ctx, "blob", func(ctx context.Context, args []codec.Value, kwargs map[string]codec.Value) (codec.Value, error) {
		return codec.Bytes(payload), nil
	}, true)
	require.NoError(t, err)

	result, err := svc.CallService(ctx, "blob", nil, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, codec.Bytes(payload), result)
}

func TestWaitForServiceReady(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestStack(t, "caller5")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = svc.CreateService(ctx, "slow", func(ctx context.Context, args []codec.Value, kwargs map[string]codec.Value) (codec.Value, error) {
			return codec.Null{}, nil
		}, true)
	}()

	require.NoError(t, svc.WaitForServiceReady(ctx, "slow", time.Second))
}
