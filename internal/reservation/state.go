package reservation

import (
	"github.com/chuveirolab/shower-bookings/internal/domain"
)

// Slot is the single shared occupancy slot. It holds at most one
// reservation and performs no validation; the Service serializes all
// access under its own mutex, so the slot itself carries no lock.
type Slot struct {
	current *domain.Reservation
}

func NewSlot() *Slot {
	return &Slot{}
}

// Get returns the current reservation, or nil when the shower is free.
func (s *Slot) Get() *domain.Reservation {
	return s.current
}

func (s *Slot) Set(r *domain.Reservation) {
	s.current = r
}

func (s *Slot) Clear() {
	s.current = nil
}
