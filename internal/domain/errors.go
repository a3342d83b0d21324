package domain

import "errors"

// Reservation error taxonomy. Handlers map these onto HTTP statuses;
// the service never retries or swallows them.
var (
	ErrAlreadyOccupied     = errors.New("shower is already occupied")
	ErrInvalidDuration     = errors.New("invalid shower duration")
	ErrNoActiveReservation = errors.New("no active shower reservation")
	ErrNotHolder           = errors.New("reservation is held by another user")
	ErrUnauthenticated     = errors.New("not authenticated")
	ErrUsernameTaken       = errors.New("username is already taken")
	ErrInvalidCredentials  = errors.New("invalid username or password")
)
