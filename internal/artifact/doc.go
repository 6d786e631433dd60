// Package artifact manages the durable per-session credential directories
// written by the protocol client.
//
// Purge is the load-bearing operation: it removes the session's directory,
// any siblings differing only in name case and any stray lock or journal
// files, then waits a settle delay before returning. Callers must not start
// a new protocol client for the key until Purge returns.
package artifact
