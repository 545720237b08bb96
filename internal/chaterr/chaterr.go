// Package chaterr defines the endpoint's sealed error taxonomy. Components
// report their own failures as one of the kinds below, so the session state
// machine and the CLI can switch on kind instead of parsing messages. Errors
// that come straight from the operating system or the standard library
// (file access, network I/O, context cancellation) are in some places
// returned unwrapped.
package chaterr

import "fmt"

// BindFailed means the listener could not claim the configured port.
type BindFailed struct {
	Port  int
	Cause error
}

func (e *BindFailed) Error() string {
	return fmt.Sprintf("could not bind port %d: %v", e.Port, e.Cause)
}

func (e *BindFailed) Unwrap() error { return e.Cause }

// DialFailed means the connector exhausted its dial attempts.
type DialFailed struct {
	Address string
	Cause   error
}

func (e *DialFailed) Error() string {
	return fmt.Sprintf("could not connect to %s: %v", e.Address, e.Cause)
}

func (e *DialFailed) Unwrap() error { return e.Cause }

// NoPeerReachable means the listen/dial race resolved in neither side.
type NoPeerReachable struct{}

func (e *NoPeerReachable) Error() string { return "no peer reachable: bind and dial both failed" }

// HandshakeFailed means the handshake sub-protocol hit a protocol violation.
type HandshakeFailed struct {
	Phase string
	Cause error
}

func (e *HandshakeFailed) Error() string {
	return fmt.Sprintf("handshake failed during %s: %v", e.Phase, e.Cause)
}

func (e *HandshakeFailed) Unwrap() error { return e.Cause }

// EncryptionRequired means policy demanded encryption but the peer declined
// or failed to negotiate it.
type EncryptionRequired struct{}

func (e *EncryptionRequired) Error() string {
	return "encryption is required by local policy but was not negotiated"
}

// AuthenticationFailed means a ciphertext failed its authentication tag.
type AuthenticationFailed struct{}

func (e *AuthenticationFailed) Error() string { return "ciphertext failed authentication" }

// MalformedFrame means a length prefix overflowed the buffer bound.
type MalformedFrame struct{}

func (e *MalformedFrame) Error() string { return "malformed frame: bad length prefix" }

// UnknownVariant means the frame's variant tag is not one this codec knows.
type UnknownVariant struct {
	Tag byte
}

func (e *UnknownVariant) Error() string {
	return fmt.Sprintf("unknown wire variant tag %d", e.Tag)
}

// TruncatedPayload means fewer bytes were available than the frame declared.
type TruncatedPayload struct{}

func (e *TruncatedPayload) Error() string { return "truncated payload" }

// FileTooLarge means a staged file exceeded the configured byte bound.
type FileTooLarge struct {
	Declared int64
	Max      int64
}

func (e *FileTooLarge) Error() string {
	return fmt.Sprintf("file too large: %d bytes (max %d)", e.Declared, e.Max)
}

// IntegrityFailed means a received file's hash or size did not match the
// sender's declaration.
type IntegrityFailed struct {
	Name string
}

func (e *IntegrityFailed) Error() string {
	return fmt.Sprintf("integrity check failed for %q", e.Name)
}

// DownloadWriteFailed means writing a staged download to disk failed.
type DownloadWriteFailed struct {
	Name  string
	Cause error
}

func (e *DownloadWriteFailed) Error() string {
	return fmt.Sprintf("could not save %q: %v", e.Name, e.Cause)
}

func (e *DownloadWriteFailed) Unwrap() error { return e.Cause }

// DeliveryFailed means the reliability tracker gave up retrying a message.
type DeliveryFailed struct {
	MessageID uint64
}

func (e *DeliveryFailed) Error() string {
	return fmt.Sprintf("delivery failed for message %d after retries exhausted", e.MessageID)
}

// PeerSilent means no traffic was observed within the liveness window.
type PeerSilent struct{}

func (e *PeerSilent) Error() string { return "peer silent: liveness timeout" }

// PeerClosed means the peer disconnected cleanly.
type PeerClosed struct{}

func (e *PeerClosed) Error() string { return "peer closed the connection" }

// ConfigInvalid means a configuration value failed validation at construction.
type ConfigInvalid struct {
	Field  string
	Reason string
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

// UnknownCommand means a local "/name" line did not match any recognized
// command. It is never sent over the wire.
type UnknownCommand struct {
	Name string
}

func (e *UnknownCommand) Error() string {
	return fmt.Sprintf("unknown command %q (try /help)", e.Name)
}
