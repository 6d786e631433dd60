// Package registry owns the process-wide map from session key to live
// connector.
//
// At most one connector is live per key. Acquire with forceNew=false is
// idempotent reuse; forceNew runs the fully serialized replacement
// sequence: disconnect the old connector, purge the session artifact
// (including case variants and stray lock files), wait the settle delay,
// construct the new connector. The entry is removed even when teardown
// fails, so a zombie connector can never block future acquisition.
package registry
