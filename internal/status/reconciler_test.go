// ABOUTME: Tests for the status reconciler
// ABOUTME: Verifies the unverifiable-record policy and live-connector precedence

package status

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatline/internal/artifact"
	"github.com/2389/chatline/internal/cache"
	"github.com/2389/chatline/internal/channel"
	"github.com/2389/chatline/internal/registry"
	"github.com/2389/chatline/internal/session"
	"github.com/2389/chatline/internal/store"
)

type stubClient struct{}

func (stubClient) Start(ctx context.Context) error { return nil }
func (stubClient) Stop() error                     { return nil }
func (stubClient) SendText(ctx context.Context, to, body string) (string, error) {
	return "id", nil
}
func (stubClient) SessionInfo() (*channel.SessionInfo, error) {
	return &channel.SessionInfo{PhoneNumber: "+15550001111", Platform: "android"}, nil
}

func newFixture(t *testing.T) (*Reconciler, *registry.Registry, *store.SQLiteStore, session.Key) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	arts, err := artifact.New(t.TempDir(), time.Millisecond, logger)
	require.NoError(t, err)

	clientFactory := func(ctx context.Context, dir string, h channel.Handlers) (channel.Client, error) {
		return stubClient{}, nil
	}
	reg := registry.New(arts, func(key session.Key) *channel.Connector {
		return channel.NewConnector(key, arts.Dir(key), cache.NewNoop(), clientFactory, logger)
	}, logger)

	key, err := session.NewKey("t1", "a1")
	require.NoError(t, err)
	return New(reg, st, logger), reg, st, key
}

func TestReconciler_NoConnectorNoRecord(t *testing.T) {
	r, _, _, key := newFixture(t)

	st, err := r.Status(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, st.IsConnected)
	assert.Equal(t, "uninitialized", st.State)
}

func TestReconciler_PersistedConnectedIsUnverifiable(t *testing.T) {
	r, _, db, key := newFixture(t)

	require.NoError(t, db.UpsertConnection(context.Background(), &store.ConnectionRecord{
		SessionKey:  key.String(),
		Status:      store.ConnectionConnected,
		PhoneNumber: "+15550001111",
		DisplayName: "Bot",
	}))

	st, err := r.Status(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, st.IsConnected, "a record alone cannot prove a live client exists")
	assert.Equal(t, store.ConnectionDisconnected, st.State)
	assert.Equal(t, "+15550001111", st.PhoneNumber, "identity fields still surface")
}

func TestReconciler_PersistedPending(t *testing.T) {
	r, _, db, key := newFixture(t)

	require.NoError(t, db.UpsertConnection(context.Background(), &store.ConnectionRecord{
		SessionKey: key.String(),
		Status:     store.ConnectionPending,
	}))

	st, err := r.Status(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, store.ConnectionPending, st.State)
	assert.False(t, st.IsConnected)
}

func TestReconciler_LiveConnectorWins(t *testing.T) {
	r, reg, db, key := newFixture(t)

	// Stale record claiming disconnected must lose to the live connector.
	require.NoError(t, db.UpsertConnection(context.Background(), &store.ConnectionRecord{
		SessionKey: key.String(),
		Status:     store.ConnectionDisconnected,
	}))

	conn, err := reg.Acquire(context.Background(), key, false)
	require.NoError(t, err)
	require.NoError(t, conn.Initialize(context.Background()))

	st, err := r.Status(context.Background(), key)
	require.NoError(t, err)
	assert.NotEqual(t, store.ConnectionDisconnected, st.State)
	assert.True(t, st.IsActive)
}
