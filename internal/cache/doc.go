// Package cache provides the shared cross-process cache behind dedup
// markers and conversation-creation locks.
//
// The Cache interface is a capability: callers receive it rather than a
// concrete client, and the Noop implementation lets cache-less deployments
// fail open without conditional wiring. The Redis implementation prefixes
// every key and maps SETNX to SetIfAbsent for atomic lock acquisition.
package cache
