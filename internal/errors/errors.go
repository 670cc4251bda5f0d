// Package errors provides standardized error codes for the console client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (socket, protocol, progress, config, journal)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by embedding applications for
// programmatic error handling. Human-readable messages are provided alongside
// codes.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error codes by domain.
// These are stable identifiers that callers can rely on for error handling.
const (
	// Socket domain - connection lifecycle errors
	CodeSocketConnectInProgress = "socket.connect_in_progress" // A connection attempt is already in flight
	CodeSocketConnectFailed     = "socket.connect_failed"      // Dial failed (DNS, refused, handshake)
	CodeSocketConnectTimeout    = "socket.connect_timeout"     // Dial did not complete within the timeout
	CodeSocketInvalidEndpoint   = "socket.invalid_endpoint"    // Endpoint URL is not a valid ws/wss URL
	CodeSocketClosed            = "socket.closed"              // Operation on a deliberately closed client
	CodeSocketSendFailed        = "socket.send_failed"         // Write to the underlying connection failed
	CodeSocketHeartbeatTimeout  = "socket.heartbeat_timeout"   // No pong within twice the heartbeat interval

	// Protocol domain - framing and dispatch errors
	CodeProtocolInvalidMessage = "protocol.invalid_message" // Malformed or unparsable frame
	CodeProtocolUnknownType    = "protocol.unknown_type"    // Message type has no registered meaning
	CodeProtocolEncodeFailed   = "protocol.encode_failed"   // Outbound message could not be serialized

	// Progress domain - task tracking errors
	CodeProgressNotFound = "progress.not_found" // No record with the given id
	CodeProgressTerminal = "progress.terminal"  // Record already reached a terminal status

	// Config domain - configuration loading and validation
	CodeConfigNotFound = "config.not_found" // Explicit config path does not exist
	CodeConfigParse    = "config.parse"     // TOML syntax or type error
	CodeConfigInvalid  = "config.invalid"   // Semantically invalid value

	// Journal domain - session journal persistence
	CodeJournalOpenFailed  = "journal.open_failed"  // Database open failed
	CodeJournalWriteFailed = "journal.write_failed" // Failed to append a journal row
	CodeJournalQueryFailed = "journal.query_failed" // Journal query failed

	// Discovery domain - mDNS backend discovery
	CodeDiscoveryFailed = "discovery.failed" // mDNS resolver or browse failure

	// Trust domain - TLS fingerprint pinning
	CodeTrustPinMismatch = "trust.pin_mismatch" // Presented certificate does not match the pin
	CodeTrustBadPin      = "trust.bad_pin"      // Configured pin is not a valid fingerprint

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal client error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "socket.connect_timeout")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to user-facing output.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// ConnectInProgress creates a "socket.connect_in_progress" error.
// Returned to a caller whose Connect raced with one already in flight;
// the caller should wait for the first attempt rather than retry.
func ConnectInProgress() *CodedError {
	return New(CodeSocketConnectInProgress, "connection already in progress")
}

// ConnectFailed creates a "socket.connect_failed" error.
func ConnectFailed(endpoint string, cause error) *CodedError {
	return Wrap(CodeSocketConnectFailed, fmt.Sprintf("failed to connect to %s", endpoint), cause)
}

// ConnectTimeout creates a "socket.connect_timeout" error.
func ConnectTimeout(endpoint string) *CodedError {
	return New(CodeSocketConnectTimeout, fmt.Sprintf("connection to %s timed out", endpoint))
}

// InvalidEndpoint creates a "socket.invalid_endpoint" error.
func InvalidEndpoint(endpoint, reason string) *CodedError {
	return New(CodeSocketInvalidEndpoint, fmt.Sprintf("invalid endpoint %q: %s", endpoint, reason))
}

// SocketClosed creates a "socket.closed" error.
func SocketClosed() *CodedError {
	return New(CodeSocketClosed, "client is closed")
}

// HeartbeatTimeout creates a "socket.heartbeat_timeout" error.
// The connection is considered dead when no pong arrives within twice the
// heartbeat interval.
func HeartbeatTimeout(interval time.Duration) *CodedError {
	return New(CodeSocketHeartbeatTimeout, fmt.Sprintf("no pong received within %v", 2*interval))
}

// InvalidMessage creates a "protocol.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeProtocolInvalidMessage, reason)
}

// EncodeFailed creates a "protocol.encode_failed" error.
func EncodeFailed(msgType string, cause error) *CodedError {
	return Wrap(CodeProtocolEncodeFailed, fmt.Sprintf("failed to encode %s message", msgType), cause)
}

// ProgressNotFound creates a "progress.not_found" error.
func ProgressNotFound(id string) *CodedError {
	return New(CodeProgressNotFound, fmt.Sprintf("progress record %s not found", id))
}

// ConfigNotFound creates a "config.not_found" error.
func ConfigNotFound(path string) *CodedError {
	return New(CodeConfigNotFound, fmt.Sprintf("config file not found: %s", path))
}

// ConfigInvalid creates a "config.invalid" error.
func ConfigInvalid(reason string) *CodedError {
	return New(CodeConfigInvalid, reason)
}

// JournalOpenFailed creates a "journal.open_failed" error.
func JournalOpenFailed(path string, cause error) *CodedError {
	return Wrap(CodeJournalOpenFailed, fmt.Sprintf("failed to open journal at %s", path), cause)
}

// PinMismatch creates a "trust.pin_mismatch" error.
// This indicates the backend presented a certificate whose fingerprint does
// not match the configured pin; the connection must not proceed.
func PinMismatch(got string) *CodedError {
	return New(CodeTrustPinMismatch, fmt.Sprintf("certificate fingerprint %s does not match pin", got))
}

// BadPin creates a "trust.bad_pin" error.
func BadPin(pin string) *CodedError {
	return New(CodeTrustBadPin, fmt.Sprintf("pin %q is not a valid SHA-256 fingerprint", pin))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
