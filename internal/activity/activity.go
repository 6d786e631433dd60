// ABOUTME: Fire-and-forget activity log sink backed by the store
// ABOUTME: Records lifecycle and relay events without ever blocking or failing callers

package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chatline/internal/store"
)

// recordTimeout bounds each background write.
const recordTimeout = 5 * time.Second

// Recorder writes activity entries asynchronously. Failures are logged and
// dropped; activity logging is never allowed to affect the calling path.
type Recorder struct {
	store  store.Store
	logger *slog.Logger
	async  bool
}

// New creates a Recorder that writes in the background.
func New(st store.Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  st,
		logger: logger.With("component", "activity"),
		async:  true,
	}
}

// NewSync creates a Recorder that writes inline, for tests.
func NewSync(st store.Store, logger *slog.Logger) *Recorder {
	r := New(st, logger)
	r.async = false
	return r
}

// Record persists one activity entry, fire-and-forget. Safe on a nil
// receiver so wiring it is optional.
func (r *Recorder) Record(sessionKey, event, detail string) {
	if r == nil || r.store == nil {
		return
	}
	entry := &store.ActivityEntry{
		ID:         uuid.New().String(),
		SessionKey: sessionKey,
		Event:      event,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if r.async {
		go r.save(entry)
		return
	}
	r.save(entry)
}

func (r *Recorder) save(entry *store.ActivityEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.store.SaveActivity(ctx, entry); err != nil {
		r.logger.Warn("saving activity entry failed", "event", entry.Event, "error", err)
	}
}
