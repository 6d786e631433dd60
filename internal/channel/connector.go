// ABOUTME: Channel connector state machine owning one messaging session
// ABOUTME: Handles initialization settlement, QR pairing, status probing, dedup and message dispatch

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/chatline/internal/cache"
	"github.com/2389/chatline/internal/session"
)

// State is the connector lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateAwaitingQR
	StateReady
	StateDisconnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAwaitingQR:
		return "awaiting_qr"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Default lifecycle timings.
const (
	DefaultInitTimeout    = 120 * time.Second
	DefaultQRTimeout      = 30 * time.Second
	DefaultQRPollInterval = 500 * time.Millisecond
	DefaultDedupTTL       = 24 * time.Hour
)

// QRResult is the outcome of a pairing request.
type QRResult struct {
	// AlreadyConnected is set when the session became ready before a QR
	// code was needed, typically because cached credentials still work.
	AlreadyConnected bool
	// Payload is the raw pairing payload.
	Payload string
	// ImageDataURL is the payload rendered as a PNG data URL.
	ImageDataURL string
}

// Status is the live view of a connector, re-derived on every call.
type Status struct {
	State       string `json:"state"`
	IsConnected bool   `json:"is_connected"`
	IsActive    bool   `json:"is_active"`
	HasQR       bool   `json:"has_qr"`
	QRImage     string `json:"qr_image,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Platform    string `json:"platform,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// settle is a one-shot initialization future. Exactly one of ready,
// auth-failure or timeout resolves it; later outcomes are no-ops.
type settle struct {
	once sync.Once
	done chan struct{}
	err  error

	mu    sync.Mutex // guards timer against concurrent arm/resolve
	timer *time.Timer
}

func newSettle() *settle {
	return &settle{done: make(chan struct{})}
}

// arm starts the deadline that fires fn unless another outcome resolves the
// settle first. Arming after resolution is a no-op.
func (s *settle) arm(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.timer = time.AfterFunc(d, fn)
}

// resolve records the outcome. Returns true for the winning caller only.
func (s *settle) resolve(err error) bool {
	won := false
	s.once.Do(func() {
		s.err = err
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		close(s.done)
		won = true
	})
	return won
}

// Connector mediates one channel session for a tenant-agent pair. It is
// created and destroyed by the registry, which guarantees at most one live
// instance per session key.
type Connector struct {
	key     session.Key
	dir     string
	cache   cache.Cache
	factory ClientFactory
	logger  *slog.Logger

	initTimeout    time.Duration
	qrTimeout      time.Duration
	qrPollInterval time.Duration
	dedupTTL       time.Duration

	mu        sync.Mutex
	state     State
	connected bool
	client    Client
	init      *settle
	qrPayload string
	qrImage   string

	handler      func(Message) // at most one active message handler
	readyCb      func(info *SessionInfo)
	disconnectCb func(reason string)
}

// NewConnector creates an uninitialized connector for a session key whose
// artifact lives at dir.
func NewConnector(key session.Key, dir string, c cache.Cache, factory ClientFactory, logger *slog.Logger) *Connector {
	if c == nil {
		c = cache.NewNoop()
	}
	return &Connector{
		key:            key,
		dir:            dir,
		cache:          c,
		factory:        factory,
		logger:         logger.With("component", "connector", "session", key.String()),
		initTimeout:    DefaultInitTimeout,
		qrTimeout:      DefaultQRTimeout,
		qrPollInterval: DefaultQRPollInterval,
		dedupTTL:       DefaultDedupTTL,
	}
}

// ConfigureTimeouts overrides the initialization and QR ceilings. Zero or
// negative values leave the defaults in place.
func (c *Connector) ConfigureTimeouts(initTimeout, qrTimeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if initTimeout > 0 {
		c.initTimeout = initTimeout
	}
	if qrTimeout > 0 {
		c.qrTimeout = qrTimeout
	}
}

// SessionKey returns the session key this connector serves.
func (c *Connector) SessionKey() session.Key {
	return c.key
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnReady registers the lifecycle callback fired when the session pairs.
func (c *Connector) OnReady(cb func(info *SessionInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readyCb = cb
}

// OnDisconnect registers the lifecycle callback fired when the session drops.
func (c *Connector) OnDisconnect(cb func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// OnMessage registers the inbound message handler. Registration replaces any
// previous handler; exactly one is ever active, so re-registration after a
// reconnect cannot cause duplicate processing.
func (c *Connector) OnMessage(handler func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Initialize constructs and starts the protocol client if none exists.
// Event handlers are attached at construction, before the start call, so a
// cached session that authenticates immediately cannot fire ready before a
// listener exists. Initialize returns once the start call has been issued;
// it does not block until the session is ready. Use WaitReady for that.
func (c *Connector) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateInitializing
	st := newSettle()
	c.init = st
	dir := c.dir
	initTimeout := c.initTimeout
	c.mu.Unlock()

	handlers := Handlers{
		OnQR:           c.handleQR,
		OnReady:        c.handleReady,
		OnAuthFailure:  c.handleAuthFailure,
		OnDisconnected: c.handleDisconnected,
		OnMessage:      c.dispatch,
	}

	cli, err := c.factory(ctx, dir, handlers)
	if err != nil {
		st.resolve(err)
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("constructing channel client: %w", err)
	}

	c.mu.Lock()
	c.client = cli
	c.mu.Unlock()

	// Armed before the start call: a cached session settles from the
	// client's own goroutine the moment the connection is up, and that
	// resolve must see the timer.
	st.arm(initTimeout, func() {
		if st.resolve(ErrInitTimeout) {
			c.handleInitTimeout()
		}
	})

	if err := cli.Start(ctx); err != nil {
		st.resolve(err)
		c.mu.Lock()
		c.client = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("starting channel client: %w", err)
	}
	return nil
}

// WaitReady blocks until initialization settles with ready, auth failure or
// timeout, or until ctx is done.
func (c *Connector) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	st := c.init
	c.mu.Unlock()
	if st == nil {
		return fmt.Errorf("connector not initializing")
	}
	select {
	case <-st.done:
		return st.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateQR drives the pairing flow. If the session is already ready it
// returns an AlreadyConnected result without touching the client. A
// disconnected session's dead client is torn down and rebuilt so pairing
// can start over. Otherwise it initializes the client if needed and polls
// for a rendered QR image up to the QR ceiling, also resolving early if the
// session becomes ready from cached credentials.
func (c *Connector) GenerateQR(ctx context.Context) (*QRResult, error) {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return nil, ErrDestroyed
	}
	if c.state == StateReady {
		c.mu.Unlock()
		return &QRResult{AlreadyConnected: true}, nil
	}
	var stale Client
	if c.state == StateDisconnected && c.client != nil {
		stale = c.client
		c.client = nil
		c.qrPayload = ""
		c.qrImage = ""
	}
	needInit := c.client == nil
	qrTimeout := c.qrTimeout
	pollInterval := c.qrPollInterval
	c.mu.Unlock()

	if stale != nil {
		if err := stale.Stop(); err != nil {
			c.logger.Warn("stopping stale client failed", "error", err)
		}
	}
	if needInit {
		if err := c.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	deadline := time.NewTimer(qrTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		c.mu.Lock()
		st := c.init
		if c.state == StateReady {
			c.mu.Unlock()
			return &QRResult{AlreadyConnected: true}, nil
		}
		if c.qrImage != "" {
			res := &QRResult{Payload: c.qrPayload, ImageDataURL: c.qrImage}
			c.mu.Unlock()
			return res, nil
		}
		c.mu.Unlock()

		var settled <-chan struct{}
		if st != nil {
			settled = st.done
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrQRTimeout
		case <-settled:
			if st.err != nil {
				return nil, st.err
			}
			// Ready won the race; loop re-checks state.
			time.Sleep(10 * time.Millisecond)
		case <-tick.C:
		}
	}
}

// GetConnectionStatus re-derives liveness by probing the client rather than
// trusting internal flags. A failed probe downgrades the connector to
// disconnected before returning.
func (c *Connector) GetConnectionStatus() Status {
	c.mu.Lock()
	cli := c.client
	st := Status{
		State:       c.state.String(),
		IsConnected: c.connected,
		IsActive:    c.client != nil && c.state != StateDestroyed,
		HasQR:       c.qrImage != "",
		QRImage:     c.qrImage,
	}
	c.mu.Unlock()

	if !st.IsConnected || cli == nil {
		return st
	}

	info, err := cli.SessionInfo()
	if err != nil || info == nil || info.PhoneNumber == "" {
		c.logger.Warn("connection probe failed, downgrading status", "error", err)
		c.mu.Lock()
		c.connected = false
		if c.state == StateReady {
			c.state = StateDisconnected
		}
		st.State = c.state.String()
		c.mu.Unlock()
		st.IsConnected = false
		return st
	}

	st.PhoneNumber = info.PhoneNumber
	st.Platform = info.Platform
	st.DisplayName = info.DisplayName
	return st
}

// IsConnected reports the last known connection flag without probing.
func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect tears the client down best-effort and clears all in-memory
// state so the instance is safe to discard. Calling it with no live client
// is a successful no-op.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	cli := c.client
	c.client = nil
	c.qrPayload = ""
	c.qrImage = ""
	c.connected = false
	c.state = StateDestroyed
	c.mu.Unlock()

	if cli == nil {
		c.logger.Debug("disconnect with no live client")
		return nil
	}
	if err := cli.Stop(); err != nil {
		c.logger.Warn("client teardown failed", "error", err)
	}
	return nil
}

// SendMessage normalizes the recipient address and forwards a text message,
// returning the provider's message identifier. Fails fast when the session
// is not connected.
func (c *Connector) SendMessage(ctx context.Context, to, body string) (string, error) {
	c.mu.Lock()
	cli := c.client
	connected := c.connected
	c.mu.Unlock()

	if !connected || cli == nil {
		return "", ErrNotConnected
	}
	addr, err := NormalizeRecipient(to)
	if err != nil {
		return "", err
	}
	id, err := cli.SendText(ctx, addr, body)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return id, nil
}

// NormalizeRecipient reduces a recipient address to its routable digits.
// Accepts phone-number formatting characters and channel addresses with a
// server suffix after '@'.
func NormalizeRecipient(to string) (string, error) {
	if at := strings.IndexByte(to, '@'); at >= 0 {
		to = to[:at]
	}
	var b strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}
	return b.String(), nil
}

func (c *Connector) handleQR(code string) {
	img, err := renderQRImage(code)
	if err != nil {
		c.logger.Error("rendering QR image failed", "error", err)
		img = ""
	}
	c.mu.Lock()
	c.qrPayload = code
	c.qrImage = img
	if c.state == StateInitializing {
		c.state = StateAwaitingQR
	}
	c.mu.Unlock()
	c.logger.Info("QR code received")
}

func (c *Connector) handleReady() {
	c.mu.Lock()
	st := c.init
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	c.connected = true
	c.qrPayload = ""
	c.qrImage = ""
	cli := c.client
	cb := c.readyCb
	c.mu.Unlock()

	if st != nil {
		st.resolve(nil)
	}
	c.logger.Info("channel session ready")

	if cb != nil {
		var info *SessionInfo
		if cli != nil {
			info, _ = cli.SessionInfo()
		}
		cb(info)
	}
}

func (c *Connector) handleAuthFailure(err error) {
	c.mu.Lock()
	st := c.init
	if c.state != StateDestroyed {
		c.state = StateDisconnected
	}
	c.connected = false
	c.mu.Unlock()

	wrapped := fmt.Errorf("%w: %v", ErrAuthFailure, err)
	if st != nil && st.resolve(wrapped) {
		c.logger.Error("authentication failed", "error", err)
	}
}

func (c *Connector) handleDisconnected(reason string) {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.connected = false
	cb := c.disconnectCb
	c.mu.Unlock()

	c.logger.Warn("channel session disconnected", "reason", reason)
	if cb != nil {
		cb(reason)
	}
}

// handleInitTimeout runs when the initialization ceiling fires first. The
// half-started client is torn down so its listeners cannot leak into a
// connector that already reported failure.
func (c *Connector) handleInitTimeout() {
	c.mu.Lock()
	cli := c.client
	c.client = nil
	if c.state != StateDestroyed {
		c.state = StateDisconnected
	}
	c.connected = false
	c.mu.Unlock()

	c.logger.Error("initialization timed out")
	if cli != nil {
		if err := cli.Stop(); err != nil {
			c.logger.Warn("stopping timed-out client failed", "error", err)
		}
	}
}

// dispatch filters an inbound message and hands it to the registered
// handler. Self-sent messages are ignored. Duplicate suppression uses a
// shared-cache marker keyed by the protocol message id; a cache outage fails
// open so delivery never blocks on the cache.
func (c *Connector) dispatch(msg Message) {
	if msg.FromSelf {
		return
	}

	if msg.ID != "" {
		key := dedupKey(msg.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		seen, err := c.cache.Exists(ctx, key)
		if err != nil {
			c.logger.Warn("dedup check failed, processing anyway", "error", err)
		} else if seen {
			c.logger.Debug("dropping duplicate message", "message_id", msg.ID)
			cancel()
			return
		} else if err := c.cache.Set(ctx, key, "1", c.dedupTTL); err != nil {
			c.logger.Warn("writing dedup marker failed", "error", err)
		}
		cancel()
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		c.logger.Debug("no message handler registered, dropping message", "message_id", msg.ID)
		return
	}
	handler(msg)
}

func dedupKey(messageID string) string {
	return "dedup:msg:" + messageID
}
