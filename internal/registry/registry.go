// ABOUTME: Process-wide registry mapping session keys to live connectors
// ABOUTME: Enforces one connector per key and serializes forced replacement around artifact purge

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/chatline/internal/artifact"
	"github.com/2389/chatline/internal/channel"
	"github.com/2389/chatline/internal/session"
)

// ConnectorFactory builds a fresh connector for a session key.
type ConnectorFactory func(key session.Key) *channel.Connector

// Registry owns the process-wide set of live connectors. At most one
// connector is live per session key; forced replacement runs the full
// disconnect, purge, settle, construct sequence before the key becomes
// acquirable again.
type Registry struct {
	artifacts *artifact.Store
	factory   ConnectorFactory
	logger    *slog.Logger

	mu         sync.Mutex
	connectors map[string]*channel.Connector
	keyLocks   map[string]*sync.Mutex
}

// New creates an empty registry.
func New(artifacts *artifact.Store, factory ConnectorFactory, logger *slog.Logger) *Registry {
	return &Registry{
		artifacts:  artifacts,
		factory:    factory,
		logger:     logger.With("component", "registry"),
		connectors: make(map[string]*channel.Connector),
		keyLocks:   make(map[string]*sync.Mutex),
	}
}

// keyLock returns the per-key mutex, creating it on first use. Replacement
// for one session key must not block acquisition of others.
func (r *Registry) keyLock(k string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.keyLocks[k]
	if !ok {
		l = &sync.Mutex{}
		r.keyLocks[k] = l
	}
	return l
}

// Acquire returns the live connector for key, creating one if none exists.
// With forceNew the existing connector is torn down best-effort, its session
// artifact is purged, and a new connector is constructed only after the
// purge has settled.
func (r *Registry) Acquire(ctx context.Context, key session.Key, forceNew bool) (*channel.Connector, error) {
	k := key.String()
	lock := r.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	existing, ok := r.connectors[k]
	r.mu.Unlock()

	if ok && !forceNew {
		return existing, nil
	}

	if ok {
		// Teardown failures must not block replacement; the entry is
		// removed regardless so the key cannot leak a zombie connector.
		if err := existing.Disconnect(); err != nil {
			r.logger.Warn("disconnecting old connector failed, continuing", "session", k, "error", err)
		}
		r.mu.Lock()
		delete(r.connectors, k)
		r.mu.Unlock()
	}

	if forceNew {
		if err := r.artifacts.Purge(ctx, key); err != nil {
			return nil, fmt.Errorf("purging session artifact: %w", err)
		}
	}

	conn := r.factory(key)
	r.mu.Lock()
	r.connectors[k] = conn
	r.mu.Unlock()
	r.logger.Info("connector created", "session", k, "force_new", forceNew)
	return conn, nil
}

// Get returns the live connector for key without creating one.
func (r *Registry) Get(key session.Key) (*channel.Connector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connectors[key.String()]
	return c, ok
}

// Remove disconnects the connector for key and deletes its session
// artifact. The registry entry is removed even when teardown or purge
// fails. Removing an absent key is a no-op.
func (r *Registry) Remove(ctx context.Context, key session.Key) error {
	k := key.String()
	lock := r.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	conn, ok := r.connectors[k]
	delete(r.connectors, k)
	r.mu.Unlock()

	if ok {
		if err := conn.Disconnect(); err != nil {
			r.logger.Warn("connector teardown failed", "session", k, "error", err)
		}
	}
	if err := r.artifacts.Purge(ctx, key); err != nil {
		r.logger.Warn("artifact purge failed", "session", k, "error", err)
		return fmt.Errorf("purging session artifact: %w", err)
	}
	return nil
}

// Len reports the number of live connectors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connectors)
}

// Shutdown disconnects every live connector without touching artifacts, so
// sessions reconnect from cached credentials on the next start.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make(map[string]*channel.Connector, len(r.connectors))
	for k, c := range r.connectors {
		conns[k] = c
	}
	r.connectors = make(map[string]*channel.Connector)
	r.mu.Unlock()

	for k, c := range conns {
		if err := c.Disconnect(); err != nil {
			r.logger.Warn("shutdown disconnect failed", "session", k, "error", err)
		}
	}
}
