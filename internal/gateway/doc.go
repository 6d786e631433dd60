// Package gateway orchestrates the chatline server components.
//
// # Overview
//
// The gateway wires the connector registry, inbound relay, status
// reconciler, persistence store and shared cache together, and exposes the
// HTTP API consumed by operator tooling.
//
// # HTTP API
//
// Session operations, keyed by tenant and agent:
//
//   - POST /api/sessions/{tenant}/{agent}/connect - start pairing, returns QR or already-connected
//   - GET  /api/sessions/{tenant}/{agent}/status - reconciled connection status
//   - POST /api/sessions/{tenant}/{agent}/disconnect - tear down and unpair
//   - POST /api/sessions/{tenant}/{agent}/send - send a text message
//   - GET  /api/sessions/{tenant}/{agent}/messages - list conversations
//   - GET  /health, /health/ready - liveness and readiness
//
// # Lifecycle wiring
//
// Every connector built through the registry gets three callbacks: ready
// upserts a connected record with the session identity, disconnect marks
// the record disconnected and force-ends all ongoing conversations, and
// the message callback feeds the relay.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts down gracefully on context cancellation: the HTTP server
// drains, live connectors disconnect without purging their artifacts, and
// the store and cache close.
package gateway
