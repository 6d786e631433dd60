// ABOUTME: Tests for the activity recorder
// ABOUTME: Verifies fire-and-forget semantics and nil-safety

package activity

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatline/internal/store"
)

func TestRecorder_Record(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	r := NewSync(st, logger)
	r.Record("t1:a1", "channel.connected", "+15550001111")
}

func TestRecorder_NilReceiverIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Record("t1:a1", "event", "")
	})
}
