package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/roomlink-core/internal/session"
	"github.com/nerrad567/roomlink-core/internal/xapi"
)

// Error is the JSON error body.
type Error struct {
	Status  int                 `json:"status"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Session *session.Projection `json:"session,omitempty"`
}

// Error codes. Device-facing codes match xapi.ErrorKind values where one
// exists.
const (
	ErrCodeBadRequest           = "bad_request"
	ErrCodeInternal             = "internal_error"
	ErrCodeUnavailable          = "unavailable"
	ErrCodeSessionNotFound      = "session_not_found"
	ErrCodeNotConnected         = "not_connected"
	ErrCodeAuthFailed           = "auth_failed"
	ErrCodeCertificateUntrusted = "certificate_untrusted"
	ErrCodeUnreachable          = "unreachable"
	ErrCodeProtocol             = "protocol_error"
	ErrCodeUnsupported          = "unsupported"
	ErrCodeDeviceError          = "device_error"
	ErrCodeTimeout              = "timeout"
	ErrCodeUnauthorized         = "unauthorized"
	ErrCodeForbidden            = "forbidden"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// statusFor maps a domain error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	if errors.Is(err, session.ErrSessionNotFound) {
		return http.StatusNotFound, ErrCodeSessionNotFound
	}
	switch xapi.Classify(err) {
	case xapi.KindNotConnected:
		return http.StatusConflict, ErrCodeNotConnected
	case xapi.KindAuthFailed:
		return http.StatusUnauthorized, ErrCodeAuthFailed
	case xapi.KindCertificateUntrusted:
		return http.StatusBadGateway, ErrCodeCertificateUntrusted
	case xapi.KindUnreachable:
		return http.StatusGatewayTimeout, ErrCodeUnreachable
	case xapi.KindProtocol:
		return http.StatusBadGateway, ErrCodeProtocol
	case xapi.KindUnsupported:
		return http.StatusNotImplemented, ErrCodeUnsupported
	case xapi.KindOpError:
		return http.StatusBadGateway, ErrCodeDeviceError
	case xapi.KindCancelled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, ErrCodeTimeout
		}
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeDomainError maps err with statusFor. OpError messages carry the
// device status; other messages are the error text, which never contains
// credentials.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeError(w, status, code, msg)
}

// writeConnectError is writeDomainError plus the failed session's
// projection, so the caller can see which state it ended in.
func writeConnectError(w http.ResponseWriter, err error, p session.Projection) {
	status, code := statusFor(err)
	body := Error{Status: status, Code: code, Message: err.Error()}
	if p.ID != "" {
		body.Session = &p
	}
	writeJSON(w, status, body)
}
