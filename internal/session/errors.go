package session

import (
	"errors"

	"github.com/nerrad567/roomlink-core/internal/xapi"
)

// Domain errors for the session package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, session.ErrSessionNotFound) {
//	    // never requested
//	}
//	if errors.Is(err, session.ErrNotConnected) {
//	    // requested but not (or no longer) connected
//	}
var (
	// ErrSessionNotFound is returned when no session was ever registered
	// under an id (or it was removed by DisconnectDevice).
	ErrSessionNotFound = errors.New("session: not found")

	// ErrNotConnected is returned for operations on a session that is not
	// in StateConnected. It is the same value as xapi.ErrNotConnected.
	ErrNotConnected = xapi.ErrNotConnected

	// ErrNoTransports is returned when the configured transport order is empty.
	ErrNoTransports = errors.New("session: no transports configured")
)
