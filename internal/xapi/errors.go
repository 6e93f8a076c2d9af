package xapi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// Domain errors for the xapi package.
var (
	// ErrUnreachable is returned when the device cannot be reached at all
	// (DNS, dial, reset connection, closed channel).
	ErrUnreachable = errors.New("xapi: device unreachable")

	// ErrAuthFailed is returned when the device rejects the credentials.
	ErrAuthFailed = errors.New("xapi: authentication failed")

	// ErrProtocol is returned when the device answers with something that is
	// not a valid XAPI response (bad handshake, malformed XML/JSON, redirect).
	ErrProtocol = errors.New("xapi: protocol error")

	// ErrCertificateUntrusted is returned when the device's TLS certificate
	// cannot be verified. The operator has to trust it out-of-band.
	ErrCertificateUntrusted = errors.New("xapi: device certificate not trusted")

	// ErrUnsupported is returned when the active transport cannot perform
	// the requested operation (subscribe over request/response).
	ErrUnsupported = errors.New("xapi: operation not supported by transport")

	// ErrNotConnected is returned when an operation requires an open channel.
	ErrNotConnected = errors.New("xapi: not connected")
)

// OpError is a device-side failure for an otherwise well-formed exchange:
// an unexpected HTTP status, a JSON-RPC error object, or a command result
// with status="Error".
type OpError struct {
	Code int
	Body string
}

func (e *OpError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("xapi: operation failed (code %d)", e.Code)
	}
	return fmt.Sprintf("xapi: operation failed (code %d): %s", e.Code, e.Body)
}

// ErrorKind is a stable, loggable name for an error class.
type ErrorKind string

// Error kinds reported by Classify.
const (
	KindNone                 ErrorKind = ""
	KindUnreachable          ErrorKind = "unreachable"
	KindAuthFailed           ErrorKind = "auth_failed"
	KindProtocol             ErrorKind = "protocol_error"
	KindCertificateUntrusted ErrorKind = "certificate_untrusted"
	KindUnsupported          ErrorKind = "unsupported"
	KindNotConnected         ErrorKind = "not_connected"
	KindOpError              ErrorKind = "op_error"
	KindCancelled            ErrorKind = "cancelled"
	KindUnknown              ErrorKind = "unknown"
)

// Classify maps err to its ErrorKind. Wrapped errors are unwrapped.
func Classify(err error) ErrorKind {
	var opErr *OpError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthFailed):
		return KindAuthFailed
	case errors.Is(err, ErrCertificateUntrusted):
		return KindCertificateUntrusted
	case errors.Is(err, ErrUnreachable):
		return KindUnreachable
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	case errors.As(err, &opErr):
		return KindOpError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindUnknown
	}
}

// classifyDialError turns a low-level dial/TLS/HTTP client error into one of
// the package sentinels, keeping the original error in the chain.
func classifyDialError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	var (
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		certInvalid x509.CertificateInvalidError
		verifyErr   *tls.CertificateVerificationError
	)
	if errors.As(err, &unknownAuth) || errors.As(err, &hostErr) ||
		errors.As(err, &certInvalid) || errors.As(err, &verifyErr) {
		return fmt.Errorf("%w: %w", ErrCertificateUntrusted, err)
	}

	// Plain HTTP on the TLS port.
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	// Everything else (net.OpError, DNS, EOF, resets) means the channel is gone.
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}
