package domain

import "time"

// Reservation is the single occupancy slot. At most one exists at a time;
// the shower is occupied if and only if a non-expired Reservation exists.
type Reservation struct {
	HolderID int64         `json:"holder_id"`
	Holder   string        `json:"holder"`
	StartAt  time.Time     `json:"start_at"`
	Duration time.Duration `json:"-"`
}

// Minutes reports the requested duration in whole minutes, as exchanged
// with clients.
func (r *Reservation) Minutes() int {
	return int(r.Duration / time.Minute)
}

// ExpiresAt is the instant at which the reservation implicitly ends.
func (r *Reservation) ExpiresAt() time.Time {
	return r.StartAt.Add(r.Duration)
}

// Expired reports whether the reservation has run out at the given instant.
func (r *Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt())
}

// Remaining returns duration minus elapsed time, floored at zero.
func (r *Reservation) Remaining(now time.Time) time.Duration {
	left := r.ExpiresAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// RemainingMinutes rounds the remaining time up to whole minutes, so a
// reservation with 4m30s left still reports 5 minutes remaining.
func (r *Reservation) RemainingMinutes(now time.Time) int {
	left := r.Remaining(now)
	if left == 0 {
		return 0
	}
	return int((left + time.Minute - 1) / time.Minute)
}

// Status is the occupancy snapshot returned by GET /api/shower/status.
type Status struct {
	Status        string `json:"status"` // free | occupied
	User          string `json:"user,omitempty"`
	RemainingTime int    `json:"remaining_time,omitempty"`
}

const (
	StatusFree     = "free"
	StatusOccupied = "occupied"
)

// Session is one row of shower usage history.
type Session struct {
	ID       int64      `json:"id"`
	UserID   int64      `json:"user_id"`
	Username string     `json:"username"`
	Duration int        `json:"duration"`
	StartAt  time.Time  `json:"start_at"`
	EndedAt  *time.Time `json:"ended_at,omitempty"`
	Expired  bool       `json:"expired"`
}

type StartRequest struct {
	Duration int `json:"duration"`
}
