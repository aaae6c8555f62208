package paramstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unmnd/nv/internal/broker"
	"github.com/unmnd/nv/internal/codec"
	"github.com/unmnd/nv/nverrors"
)

func newTestStore(t *testing.T, nodeName string) *Store {
	t.Helper()
	c, err := broker.NewEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return New(c, nodeName)
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "node1")

	require.NoError(t, s.Set(ctx, "", "threshold", codec.Int(42), "trigger level"))

	v, err := s.Get(ctx, "", "threshold", true)
	require.NoError(t, err)
	require.Equal(t, codec.Int(42), v)

	desc, err := s.GetDescription(ctx, "", "threshold")
	require.NoError(t, err)
	require.Equal(t, "trigger level", desc)
}

func TestGetMissingReturnsNullByDefault(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "node1")

	v, err := s.Get(ctx, "", "nope", false)
	require.NoError(t, err)
	require.Equal(t, codec.Null{}, v)
}

func TestGetMissingFailsWhenStrict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "node1")

	_, err := s.Get(ctx, "", "nope", true)
	require.ErrorIs(t, err, nverrors.ErrParameterNotFound)
}

func TestListGlob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "node1")

	require.NoError(t, s.Set(ctx, "", "camera.fps", codec.Int(30), ""))
	require.NoError(t, s.Set(ctx, "", "camera.exposure", codec.Int(100), ""))
	require.NoError(t, s.Set(ctx, "", "audio.gain", codec.Float(1.0), ""))

	params, err := s.List(ctx, "", "camera.*")
	require.NoError(t, err)
	require.Len(t, params, 2)
	require.Equal(t, codec.Int(30), params["camera.fps"])
	require.Equal(t, codec.Int(100), params["camera.exposure"])
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "node1")

	require.NoError(t, s.Set(ctx, "", "a", codec.Int(1), ""))
	require.NoError(t, s.Set(ctx, "", "b", codec.Int(2), ""))
	require.NoError(t, s.DeleteAll(ctx, ""))

	params, err := s.List(ctx, "", "*")
	require.NoError(t, err)
	require.Empty(t, params)
}

func TestSetFromFileFlattensAndEvaluatesConditions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "unused")

	t.Setenv("NV_TEST_ENV_STAGE", "production")

	dir := t.TempDir()
	path := filepath.Join(dir, "params.yaml")
	contents := `
camera:
  resolution:
    width: 1920
    height: 1080
  fps: 30
"worker (${NV_TEST_ENV_STAGE} == \"production\")":
  pool_size: 8
"debugger (${NV_TEST_ENV_STAGE} == \"staging\")":
  verbose: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	require.NoError(t, s.SetFromFile(ctx, path))

	width, err := s.Get(ctx, "camera", "resolution.width", true)
	require.NoError(t, err)
	require.Equal(t, codec.Int(1920), width)

	fps, err := s.Get(ctx, "camera", "fps", true)
	require.NoError(t, err)
	require.Equal(t, codec.Int(30), fps)

	poolSize, err := s.Get(ctx, "worker", "pool_size", true)
	require.NoError(t, err)
	require.Equal(t, codec.Int(8), poolSize)

	_, err = s.Get(ctx, "debugger", "verbose", true)
	require.ErrorIs(t, err, nverrors.ErrParameterNotFound)
}
