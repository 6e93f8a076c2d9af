package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/roomlink-core/internal/auth"
)

const ctxKeyClaims contextKey = "claims"

const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// ticketBytes is the number of random bytes in a WebSocket ticket.
	ticketBytes = 32
)

// authMiddleware requires a valid bearer token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeUnauthorized(w, "bearer token required")
			return
		}

		claims, err := auth.ParseToken(raw, s.secret)
		if err != nil {
			s.logger.Debug("rejected API token", "error", err, "path", r.URL.Path)
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// operatorMiddleware limits viewers to GET and HEAD.
func (s *Server) operatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if c, ok := claimsFrom(r.Context()); !ok || !c.Role.CanWrite() {
			writeForbidden(w, "operator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// claimsFrom returns the caller's claims set by authMiddleware.
func claimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return c, ok
}

// ticketStore holds pending WebSocket tickets. Tickets are single-use and
// expire after ticketTTL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue creates a ticket for subject, dropping expired ones on the way.
func (ts *ticketStore) issue(subject string, now time.Time) string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	for k, e := range ts.tickets {
		if !now.Before(e.expiresAt) {
			delete(ts.tickets, k)
		}
	}
	ts.tickets[ticket] = ticketEntry{subject: subject, expiresAt: now.Add(ticketTTL)}
	return ticket
}

// redeem consumes ticket and reports whether it was valid.
func (ts *ticketStore) redeem(ticket string, now time.Time) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(ts.tickets, ticket)
	return e, now.Before(e.expiresAt)
}

// handleWSTicket issues a single-use WebSocket ticket, so the token never
// appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject := ""
	if c, ok := claimsFrom(r.Context()); ok {
		subject = c.Subject
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(subject, time.Now()),
		"expires_in": int(ticketTTL.Seconds()),
	})
}
