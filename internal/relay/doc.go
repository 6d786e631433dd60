// Package relay forwards inbound channel messages to the remote agent
// backend and sends replies back to the contact.
//
// Conversation creation for a first-time contact runs under a distributed
// set-if-absent lock (~10s TTL) so two near-simultaneous first messages
// resolve to one conversation. Lock contention degrades gracefully: wait
// briefly, re-check once, then proceed with a warning rather than
// deadlock. Any mid-flight failure is answered with a generic apology
// message, best-effort; no error escapes the handler.
package relay
