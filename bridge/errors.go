// Package bridge implements the message transport core between a host
// application and an embedded game engine: readiness handshake with queued
// delivery, batching, throttling, delta compression and checksum-verified
// chunked binary transfer on top of a raw send primitive.
package bridge

import (
	"errors"
	"fmt"
)

// ErrChannelNotReady is the transient handshake failure: the platform view
// exists but its message channel has not been wired up yet. It is the only
// error the handshake retries; anything else is fatal.
var ErrChannelNotReady = errors.New("bridge: channel not ready")

// TransportError wraps a failed raw channel call with its routing context.
type TransportError struct {
	Target string
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bridge: transport send %s.%s failed: %v", e.Target, e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ChecksumMismatchError reports a reassembled binary payload whose CRC32 does
// not match the value declared by the transfer header. The partial payload is
// discarded, never delivered.
type ChecksumMismatchError struct {
	TransferID string
	Want       uint32
	Got        uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("bridge: transfer %s checksum mismatch: want %08x got %08x",
		e.TransferID, e.Want, e.Got)
}

// IncompleteTransferError reports a footer received while one or more chunk
// indices were never seen.
type IncompleteTransferError struct {
	TransferID string
	Missing    int
	Total      int
}

func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("bridge: transfer %s incomplete: %d of %d chunks missing",
		e.TransferID, e.Missing, e.Total)
}

// HandshakeTimeoutError reports an exhausted handshake retry budget. The
// gate is permanently failed; a new controller instance is required.
type HandshakeTimeoutError struct {
	Attempts int
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("bridge: handshake failed after %d attempts", e.Attempts)
}

// InvalidArgumentError reports a malformed argument rejected at the API
// boundary before any transport interaction.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("bridge: invalid %s: %s", e.Field, e.Reason)
}
