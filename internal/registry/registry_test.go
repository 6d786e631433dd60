// ABOUTME: Tests for the connector registry
// ABOUTME: Verifies idempotent reuse, serialized forced replacement and artifact cleanup

package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatline/internal/artifact"
	"github.com/2389/chatline/internal/cache"
	"github.com/2389/chatline/internal/channel"
	"github.com/2389/chatline/internal/session"
)

type stubClient struct{ stopped bool }

func (s *stubClient) Start(ctx context.Context) error { return nil }
func (s *stubClient) Stop() error                     { s.stopped = true; return nil }
func (s *stubClient) SendText(ctx context.Context, to, body string) (string, error) {
	return "id", nil
}
func (s *stubClient) SessionInfo() (*channel.SessionInfo, error) {
	return &channel.SessionInfo{PhoneNumber: "+15550001111"}, nil
}

func newTestRegistry(t *testing.T) (*Registry, *artifact.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	arts, err := artifact.New(t.TempDir(), time.Millisecond, logger)
	require.NoError(t, err)

	clientFactory := func(ctx context.Context, dir string, h channel.Handlers) (channel.Client, error) {
		return &stubClient{}, nil
	}
	factory := func(key session.Key) *channel.Connector {
		return channel.NewConnector(key, arts.Dir(key), cache.NewNoop(), clientFactory, logger)
	}
	return New(arts, factory, logger), arts
}

func mustKey(t *testing.T, tenant, agent string) session.Key {
	t.Helper()
	key, err := session.NewKey(tenant, agent)
	require.NoError(t, err)
	return key
}

func TestRegistry_AcquireIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	key := mustKey(t, "t1", "a1")

	c1, err := r.Acquire(context.Background(), key, false)
	require.NoError(t, err)
	c2, err := r.Acquire(context.Background(), key, false)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_AcquireForceNewReplaces(t *testing.T) {
	r, arts := newTestRegistry(t)
	key := mustKey(t, "t1", "a1")

	c1, err := r.Acquire(context.Background(), key, false)
	require.NoError(t, err)

	// Simulate credentials left behind by the old session.
	dir := arts.Dir(key)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.db"), []byte("creds"), 0o644))

	c2, err := r.Acquire(context.Background(), key, true)
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
	assert.Equal(t, channel.StateDestroyed, c1.State())
	assert.NoDirExists(t, dir, "new connector must not see old artifact files")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SeparateKeysSeparateConnectors(t *testing.T) {
	r, _ := newTestRegistry(t)

	c1, err := r.Acquire(context.Background(), mustKey(t, "t1", "a1"), false)
	require.NoError(t, err)
	c2, err := r.Acquire(context.Background(), mustKey(t, "t1", "a2"), false)
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Remove(t *testing.T) {
	r, arts := newTestRegistry(t)
	key := mustKey(t, "t1", "a1")

	c, err := r.Acquire(context.Background(), key, false)
	require.NoError(t, err)
	dir := arts.Dir(key)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	require.NoError(t, r.Remove(context.Background(), key))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, channel.StateDestroyed, c.State())
	assert.NoDirExists(t, dir)

	_, ok := r.Get(key)
	assert.False(t, ok)

	// Removing an absent key is a no-op.
	assert.NoError(t, r.Remove(context.Background(), key))
}

func TestRegistry_ShutdownKeepsArtifacts(t *testing.T) {
	r, arts := newTestRegistry(t)
	key := mustKey(t, "t1", "a1")

	c, err := r.Acquire(context.Background(), key, false)
	require.NoError(t, err)
	dir := arts.Dir(key)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	r.Shutdown()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, channel.StateDestroyed, c.State())
	assert.DirExists(t, dir, "shutdown must preserve credentials for reconnect")
}
