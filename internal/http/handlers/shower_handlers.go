package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chuveirolab/shower-bookings/internal/domain"
)

// StartShower reserves the shower for the authenticated user
func (h *Handlers) StartShower(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req domain.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return
	}

	res, err := h.reservations.Start(r.Context(), user, req.Duration)
	if err != nil {
		h.writeReservationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    user.Username,
		"message": "Shower started",
		"reservation": map[string]interface{}{
			"holder":   res.Holder,
			"duration": res.Minutes(),
			"start_at": res.StartAt,
		},
	})
}

// EndShower ends the authenticated user's active reservation
func (h *Handlers) EndShower(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	holder, err := h.reservations.End(r.Context(), user)
	if err != nil {
		h.writeReservationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    holder,
		"message": "Shower ended",
	})
}

// ShowerStatus reports current occupancy; no session required
func (h *Handlers) ShowerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reservations.Status(r.Context()))
}

// ShowerHistory lists recent shower sessions
func (h *Handlers) ShowerHistory(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.reservations.History(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load shower history", "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

func (h *Handlers) writeReservationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_DURATION")
	case errors.Is(err, domain.ErrAlreadyOccupied):
		writeError(w, http.StatusConflict, err.Error(), "ALREADY_OCCUPIED")
	case errors.Is(err, domain.ErrNoActiveReservation):
		writeError(w, http.StatusConflict, err.Error(), "NO_ACTIVE_RESERVATION")
	case errors.Is(err, domain.ErrNotHolder):
		writeError(w, http.StatusForbidden, err.Error(), "NOT_HOLDER")
	default:
		writeError(w, http.StatusInternalServerError, "Something went wrong", "INTERNAL_ERROR")
	}
}
