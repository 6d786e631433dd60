// Package activity records session lifecycle and relay events to the store,
// fire-and-forget: writes run on their own goroutine with a bounded timeout
// and failures are logged, never propagated.
package activity
