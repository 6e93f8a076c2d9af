package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/roomlink-core/internal/normalize"
)

type currentBookingResponse struct {
	Booking *normalize.Booking `json:"booking"`
}

// handleTodaysBookings serves both /devices/{id}/bookings/today and the
// current-device /bookings/today, where the id param is empty.
func (s *Server) handleTodaysBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.bookings.TodaysBookings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCurrentBooking answers {"booking": null} when nothing is in progress.
func (s *Server) handleCurrentBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.bookings.CurrentBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, currentBookingResponse{Booking: b})
}
