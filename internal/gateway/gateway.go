// ABOUTME: Gateway orchestrator that wires the registry, relay, store and HTTP server
// ABOUTME: Owns connector lifecycle callbacks and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/chatline/internal/activity"
	"github.com/2389/chatline/internal/artifact"
	"github.com/2389/chatline/internal/backend"
	"github.com/2389/chatline/internal/cache"
	"github.com/2389/chatline/internal/channel"
	"github.com/2389/chatline/internal/config"
	"github.com/2389/chatline/internal/registry"
	"github.com/2389/chatline/internal/relay"
	"github.com/2389/chatline/internal/session"
	"github.com/2389/chatline/internal/status"
	"github.com/2389/chatline/internal/store"
)

// lifecycleTimeout bounds store writes performed from connector callbacks.
const lifecycleTimeout = 5 * time.Second

// relayTimeout bounds one full relay pass for an inbound message.
const relayTimeout = 60 * time.Second

// Gateway orchestrates the chatline server components.
type Gateway struct {
	config     *config.Config
	logger     *slog.Logger
	store      store.Store
	cache      cache.Cache
	artifacts  *artifact.Store
	registry   *registry.Registry
	relay      *relay.Relay
	status     *status.Reconciler
	activity   *activity.Recorder
	backend    backend.Client
	httpServer *http.Server

	clientFactory channel.ClientFactory
}

// Option overrides a Gateway dependency, used by tests to substitute fakes.
type Option func(*Gateway)

// WithClientFactory replaces the protocol client factory.
func WithClientFactory(f channel.ClientFactory) Option {
	return func(g *Gateway) { g.clientFactory = f }
}

// WithBackend replaces the agent backend client.
func WithBackend(b backend.Client) Option {
	return func(g *Gateway) { g.backend = b }
}

// WithCache replaces the shared cache.
func WithCache(c cache.Cache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithStore replaces the persistence store.
func WithStore(s store.Store) Option {
	return func(g *Gateway) { g.store = s }
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		config: cfg,
		logger: logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(gw)
	}

	if gw.store == nil {
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		gw.store = s
	}

	if gw.cache == nil {
		if cfg.Redis.Addr != "" {
			c, err := cache.NewRedis(cache.RedisConfig{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Prefix:   cfg.Redis.Prefix,
			})
			if err != nil {
				return nil, fmt.Errorf("connecting to redis: %w", err)
			}
			gw.cache = c
		} else {
			logger.Warn("no redis configured, dedup and creation locks degrade to fail-open")
			gw.cache = cache.NewNoop()
		}
	}

	arts, err := artifact.New(cfg.Sessions.Dir, cfg.Sessions.SettleDelay, logger)
	if err != nil {
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}
	gw.artifacts = arts

	if gw.clientFactory == nil {
		gw.clientFactory = channel.NewWhatsmeowFactory(logger)
	}
	if gw.backend == nil {
		gw.backend = backend.New(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.Timeout)
	}

	gw.activity = activity.New(gw.store, logger)
	gw.relay = relay.New(gw.store, gw.backend, gw.cache, gw.activity, logger)

	gw.registry = registry.New(arts, func(key session.Key) *channel.Connector {
		conn := channel.NewConnector(key, arts.Dir(key), gw.cache, gw.clientFactory, logger)
		conn.ConfigureTimeouts(cfg.Sessions.InitTimeout, cfg.Sessions.QRTimeout)
		gw.attachLifecycle(conn, key)
		return conn
	}, logger)
	gw.status = status.New(gw.registry, gw.store, logger)

	mux := http.NewServeMux()
	gw.registerRoutes(mux)
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// attachLifecycle registers the connector callbacks that keep the persisted
// connection record in sync and feed inbound messages to the relay. The
// relay handler is re-registered on every acquire; registration replaces,
// so reconnects never stack handlers.
func (g *Gateway) attachLifecycle(conn *channel.Connector, key session.Key) {
	conn.OnReady(func(info *channel.SessionInfo) {
		ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
		defer cancel()

		rec := &store.ConnectionRecord{
			SessionKey: key.String(),
			Status:     store.ConnectionConnected,
		}
		if info != nil {
			rec.PhoneNumber = info.PhoneNumber
			rec.Platform = info.Platform
			rec.DisplayName = info.DisplayName
		}
		if err := g.store.UpsertConnection(ctx, rec); err != nil {
			g.logger.Error("updating connection record failed", "session", key.String(), "error", err)
		}
		g.activity.Record(key.String(), "channel.connected", rec.PhoneNumber)
	})

	conn.OnDisconnect(func(reason string) {
		ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
		defer cancel()

		if err := g.store.UpsertConnection(ctx, &store.ConnectionRecord{
			SessionKey: key.String(),
			Status:     store.ConnectionDisconnected,
		}); err != nil {
			g.logger.Error("updating connection record failed", "session", key.String(), "error", err)
		}
		// The channel dropped: every ongoing conversation for this session
		// is over.
		n, err := g.store.EndAllConversations(ctx, key.String())
		if err != nil {
			g.logger.Error("ending conversations failed", "session", key.String(), "error", err)
		} else if n > 0 {
			g.logger.Info("ended ongoing conversations", "session", key.String(), "count", n)
		}
		g.activity.Record(key.String(), "channel.disconnected", reason)
	})

	conn.OnMessage(func(msg channel.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		defer cancel()
		g.relay.Handle(ctx, key, msg, conn)
	})
}

// registerRoutes wires the HTTP surface.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions/{tenant}/{agent}/connect", g.handleConnect)
	mux.HandleFunc("GET /api/sessions/{tenant}/{agent}/status", g.handleStatus)
	mux.HandleFunc("POST /api/sessions/{tenant}/{agent}/disconnect", g.handleDisconnect)
	mux.HandleFunc("POST /api/sessions/{tenant}/{agent}/send", g.handleSend)
	mux.HandleFunc("GET /api/sessions/{tenant}/{agent}/messages", g.handleListMessages)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
}

// Run starts the HTTP server and blocks until ctx is canceled or the server
// fails.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
		return g.gracefulShutdown()
	}
}

// gracefulShutdown stops the HTTP server, disconnects live connectors
// without purging their artifacts, and closes the store and cache.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	g.registry.Shutdown()
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if err := g.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing cache: %w", err))
	}
	return errors.Join(errs...)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness means the store answers; a missing record is fine.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := g.store.GetConnection(ctx, "readiness:probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
