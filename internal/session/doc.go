// Package session defines the key identifying one tenant-agent channel
// session. The canonical "tenant:agent" string names the registry entry,
// the on-disk artifact directory and every cache key for the session.
package session
