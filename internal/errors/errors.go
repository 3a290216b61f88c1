// Package errors provides domain-specific error types for gorelay.
//
// These types carry structured context (operation, peer, transfer
// progress) that lets the server decide whether a failure tears down a
// session, aborts a single transfer, or is recovered in place.
package errors

import (
	"errors"
	"fmt"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrMalformedFrame reports a length prefix inconsistent with the
	// bytes actually available on the stream.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrAuthFailed reports a stream that closed before a complete
	// username frame arrived.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRouteNotFound reports a recipient name absent from the
	// registry.  A normal branch, never session-fatal.
	ErrRouteNotFound = errors.New("recipient not online")

	// ErrTransferAborted reports a stream error in the middle of a
	// file relay.
	ErrTransferAborted = errors.New("transfer aborted")

	// ErrConnectionLost reports an unexpected stream closure outside
	// a file transfer.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNameTaken is reserved for a strict-uniqueness join policy.
	// The default policy evicts the previous session instead.
	ErrNameTaken = errors.New("name already taken")
)

// ── Structured error types ───────────────────────────────────────────

// ProtocolError represents a failure in one protocol exchange with a
// specific peer.
type ProtocolError struct {
	Op   string // "auth", "frame", "roster", "notice"
	Peer string // remote address or display name
	Err  error  // underlying error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransferError represents a file relay that stopped before moving the
// declared byte count.
type TransferError struct {
	Sender    string
	Recipient string
	Filename  string
	Copied    uint64 // bytes moved before the failure
	Declared  uint64 // bytes the sender announced
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("relay %q %s->%s: %d/%d bytes: %v",
		e.Filename, e.Sender, e.Recipient, e.Copied, e.Declared, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ── Constructors ─────────────────────────────────────────────────────

// WrapProtocol creates a ProtocolError.
func WrapProtocol(op, peer string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Peer: peer, Err: err}
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use gorelay/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
