// Package store provides persistence for connection records, conversations,
// transcripts and the activity log.
//
// # Overview
//
// The Store interface is backed by SQLite (modernc.org/sqlite, pure Go).
// One connection record exists per session key; at most one ongoing
// conversation exists per (session key, contact address), enforced by a
// partial unique index so the constraint holds across processes.
//
// # Schema
//
//   - connections: one row per session key, status pending/connected/disconnected
//   - conversations: contact conversations with the backend conversation id
//   - turns: transcript entries, foreign-keyed to conversations
//   - activity_log: fire-and-forget lifecycle events
//
// The schema is created automatically on open. WAL mode and foreign keys
// are enabled; ":memory:" databases are supported for tests.
package store
