// ABOUTME: Durable session artifact store - one credential directory per session key
// ABOUTME: Owns purge semantics: remove dir, case variants and stray lock files, then settle

package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/2389/chatline/internal/session"
)

// DefaultSettleDelay is waited after every purge before the directory may be
// recreated. Guards against filesystem write-after-delete visibility lag on
// the session directory; it is a pragmatic pause, not a lock.
const DefaultSettleDelay = 500 * time.Millisecond

// dirPrefix namespaces artifact directories under the root so purge never
// touches unrelated entries.
const dirPrefix = "session-"

// Store manages the on-disk credential bundles written by the protocol
// client. At most one directory exists per session key; the directory is
// deleted wholesale on disconnect or forced re-pairing.
type Store struct {
	root        string
	settleDelay time.Duration
	logger      *slog.Logger
}

// New creates a Store rooted at the given directory, creating it if needed.
func New(root string, settleDelay time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	return &Store{
		root:        root,
		settleDelay: settleDelay,
		logger:      logger.With("component", "artifact-store"),
	}, nil
}

// Dir returns the artifact directory for a session key. The directory is not
// created; the protocol client creates it on first pairing.
func (s *Store) Dir(key session.Key) string {
	return filepath.Join(s.root, dirPrefix+key.String())
}

// Exists reports whether an artifact directory is present for the key.
func (s *Store) Exists(key session.Key) bool {
	info, err := os.Stat(s.Dir(key))
	return err == nil && info.IsDir()
}

// Purge deletes the artifact directory for the key, including any entries
// that differ only in name case and any stray lock files left next to the
// directory, then waits the settle delay. Callers must not start a new
// protocol client for this key until Purge returns: cleanup has to fully
// precede the next initialization or the new client may adopt a half-deleted
// credential set.
func (s *Store) Purge(ctx context.Context, key session.Key) error {
	want := dirPrefix + key.String()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("reading artifact root: %w", err)
	}

	var removeErr error
	for _, entry := range entries {
		name := entry.Name()
		if !matchesArtifact(name, want) {
			continue
		}
		path := filepath.Join(s.root, name)
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("failed to remove artifact entry", "path", path, "error", err)
			removeErr = err
			continue
		}
		s.logger.Debug("removed artifact entry", "path", path)
	}
	if removeErr != nil {
		return fmt.Errorf("purging artifact for %s: %w", key, removeErr)
	}

	return s.settle(ctx)
}

// matchesArtifact reports whether a root entry belongs to the session's
// artifact: the directory itself (case-insensitively, some filesystems and
// older builds disagreed on case) or a stray lock/journal file derived from
// its name (e.g. "session-t:a.lock", "session-t:a.db-wal").
func matchesArtifact(name, want string) bool {
	if strings.EqualFold(name, want) {
		return true
	}
	lower := strings.ToLower(name)
	prefix := strings.ToLower(want)
	if !strings.HasPrefix(lower, prefix) {
		return false
	}
	rest := lower[len(prefix):]
	switch {
	case strings.HasPrefix(rest, ".lock"),
		strings.HasPrefix(rest, ".db"),
		rest == ".tmp":
		return true
	}
	return false
}

// settle waits the configured delay, honoring context cancellation.
func (s *Store) settle(ctx context.Context) error {
	timer := time.NewTimer(s.settleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
