// ABOUTME: Connection-status reconciler merging live connector state with persisted records
// ABOUTME: Treats a persisted connected record without a live connector as unverifiable

package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/chatline/internal/channel"
	"github.com/2389/chatline/internal/registry"
	"github.com/2389/chatline/internal/session"
	"github.com/2389/chatline/internal/store"
)

// Reconciler answers status queries. A live connector is always
// authoritative; only when none exists is the persisted connection record
// consulted, and a persisted "connected" there is reported as disconnected:
// the process that held the live client may have restarted, and callers
// must not believe messages can be sent when no client exists to send them.
type Reconciler struct {
	registry *registry.Registry
	store    store.Store
	logger   *slog.Logger
}

// New creates a reconciler.
func New(reg *registry.Registry, st store.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		registry: reg,
		store:    st,
		logger:   logger.With("component", "status"),
	}
}

// Status returns the reconciled status for a session key.
func (r *Reconciler) Status(ctx context.Context, key session.Key) (*channel.Status, error) {
	if conn, ok := r.registry.Get(key); ok {
		st := conn.GetConnectionStatus()
		return &st, nil
	}

	rec, err := r.store.GetConnection(ctx, key.String())
	if errors.Is(err, store.ErrNotFound) {
		return &channel.Status{State: "uninitialized"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading connection record: %w", err)
	}

	st := &channel.Status{
		State:       store.ConnectionDisconnected,
		PhoneNumber: rec.PhoneNumber,
		Platform:    rec.Platform,
		DisplayName: rec.DisplayName,
	}
	if rec.Status == store.ConnectionPending {
		st.State = store.ConnectionPending
	}
	if rec.Status == store.ConnectionConnected {
		r.logger.Warn("persisted record says connected but no live connector exists, reporting disconnected",
			"session", key.String())
	}
	return st, nil
}
