// Package backend is the HTTP/JSON client for the remote conversational
// agent service: it creates conversations for an agent and exchanges turns.
// Server-side failures map to ErrUnavailable so the relay can treat them
// uniformly.
package backend
