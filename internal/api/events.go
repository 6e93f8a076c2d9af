package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/roomlink-core/internal/audit"
)

// handleListEvents returns session lifecycle history.
//
// Query parameters: session_id, state, since (RFC3339), limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	s.listEvents(w, r, r.URL.Query().Get("session_id"))
}

// handleDeviceEvents is handleListEvents scoped to one session.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	s.listEvents(w, r, chi.URLParam(r, "id"))
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit store not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{SessionID: sessionID, State: q.Get("state")}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be RFC3339")
			return
		}
		filter.Since = t
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeBadRequest(w, name+" must be an integer")
				return
			}
			*dst = n
		}
	}

	res, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing session events failed", "error", err)
		writeInternalError(w, "failed to list session events")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
