// ABOUTME: Sentinel errors for the channel connector lifecycle
// ABOUTME: Distinguishes timeout, auth and connectivity failures for callers

package channel

import "errors"

var (
	// ErrInitTimeout means the client neither became ready nor failed
	// authentication within the initialization ceiling.
	ErrInitTimeout = errors.New("initialization timed out")

	// ErrAuthFailure means the channel rejected the session credentials.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrQRTimeout means no pairing code was rendered within the QR ceiling.
	ErrQRTimeout = errors.New("timed out waiting for QR code")

	// ErrNotConnected means a send was attempted without a ready session.
	ErrNotConnected = errors.New("channel not connected")

	// ErrDestroyed means the connector was explicitly torn down and cannot
	// be reused.
	ErrDestroyed = errors.New("connector destroyed")

	// ErrInvalidRecipient means the recipient address could not be
	// normalized to a routable form.
	ErrInvalidRecipient = errors.New("invalid recipient address")
)
