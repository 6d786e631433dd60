// ABOUTME: Protocol client abstraction consumed by the channel connector
// ABOUTME: Defines the Client interface, inbound Message shape and event handler wiring

package channel

import (
	"context"
	"time"
)

// Message is an inbound message delivered by the protocol client.
type Message struct {
	// ID is the protocol-unique message identifier, used for deduplication.
	ID string
	// Sender is the raw sender address on the channel.
	Sender string
	// FromSelf marks messages authored by the session's own account.
	FromSelf bool
	// Text is the message body, empty for media-only messages.
	Text string
	// HasMedia marks messages carrying an attachment.
	HasMedia bool
	// Timestamp is the channel-reported send time.
	Timestamp time.Time
}

// SessionInfo is the identity reported by a live, paired session.
type SessionInfo struct {
	PhoneNumber string
	Platform    string
	DisplayName string
}

// Handlers carries the event callbacks a client fires. They are handed to
// the client factory so every callback is attached before the client's start
// routine runs; a cached session that authenticates instantly must not be
// able to fire ready into the void.
type Handlers struct {
	OnQR           func(code string)
	OnReady        func()
	OnAuthFailure  func(err error)
	OnDisconnected func(reason string)
	OnMessage      func(msg Message)
}

// Client is the minimal protocol client surface the connector drives.
type Client interface {
	// Start begins the connection attempt. Credentials persisted in the
	// session artifact directory are reused; otherwise a pairing flow is
	// started and QR codes are emitted through the handlers.
	Start(ctx context.Context) error
	// Stop tears the connection down. Safe to call more than once.
	Stop() error
	// SendText sends a plain text message to a normalized recipient address
	// and returns the provider's message identifier.
	SendText(ctx context.Context, to, body string) (string, error)
	// SessionInfo probes the live session for its identity. It returns an
	// error when the session is not connected or not paired; callers use it
	// to re-derive liveness instead of trusting cached flags.
	SessionInfo() (*SessionInfo, error)
}

// ClientFactory builds a protocol client rooted at the given session
// artifact directory with all handlers pre-registered.
type ClientFactory func(ctx context.Context, artifactDir string, handlers Handlers) (Client, error)
