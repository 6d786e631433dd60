// Package channel implements the connector owning one messaging-channel
// session.
//
// # Overview
//
// A Connector wraps a protocol client (whatsmeow in production, fakes in
// tests) and exposes a small state machine:
//
//	Uninitialized -> Initializing -> (AwaitingQR | Ready) -> Disconnected
//
// Destroyed is terminal and reachable from any state via Disconnect.
//
// # Initialization settlement
//
// Initialize attaches every event handler before the client's start routine
// runs, then races three outcomes with a one-shot future:
//
//   - ready: the session paired (or reconnected from cached credentials)
//   - auth failure: the channel rejected the credentials
//   - timeout: a 120 second ceiling fired first
//
// Exactly one outcome settles the future; later events are no-ops. A
// timeout additionally tears the half-started client down so its listeners
// cannot leak.
//
// # Pairing
//
// GenerateQR polls for a rendered QR image every 500ms up to a 30 second
// ceiling. If the session becomes ready first (cached credentials), the
// result is flagged AlreadyConnected instead.
//
// # Inbound messages
//
// The connector filters messages before the registered handler sees them:
// self-sent messages are dropped, and a shared-cache marker keyed by the
// protocol message id suppresses duplicates for 24 hours. A cache outage
// fails open. OnMessage registration replaces the previous handler, so
// re-registration after a reconnect never stacks handlers.
//
// # Status
//
// GetConnectionStatus re-derives liveness by probing the client for session
// identity rather than trusting flags; a failed probe downgrades the
// connector to disconnected before returning.
package channel
