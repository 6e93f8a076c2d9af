package session

import (
	"strings"

	"github.com/google/uuid"
)

// idNamespace scopes session ids so they never collide with other UUIDv5s.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("session.roomlink"))

// NormalizeHost reduces a user-entered host to the form used for dialing
// and id derivation: scheme and path stripped, lower-cased, default HTTPS
// port dropped.
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	for _, scheme := range []string{"https://", "http://", "wss://", "ws://"} {
		h = strings.TrimPrefix(h, scheme)
	}
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	return strings.TrimSuffix(h, ":443")
}

// DeriveID returns the stable session id for host. The same host always
// maps to the same id regardless of spelling differences NormalizeHost
// removes.
func DeriveID(host string) string {
	return uuid.NewSHA1(idNamespace, []byte(NormalizeHost(host))).String()
}
