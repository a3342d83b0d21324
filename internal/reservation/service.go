package reservation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chuveirolab/shower-bookings/internal/domain"
	"github.com/chuveirolab/shower-bookings/internal/repo/postgres"
	"github.com/chuveirolab/shower-bookings/pkg/config"
	"github.com/chuveirolab/shower-bookings/pkg/events"
	"github.com/chuveirolab/shower-bookings/pkg/logger"
)

// Clock lets tests drive time. A nil Clock means time.Now.
type Clock func() time.Time

type Service interface {
	Start(ctx context.Context, user *domain.User, durationMinutes int) (*domain.Reservation, error)
	End(ctx context.Context, user *domain.User) (string, error)
	Status(ctx context.Context) *domain.Status
	History(ctx context.Context, limit int) ([]domain.Session, error)
	RunSweeper(ctx context.Context) error
}

type service struct {
	mu        sync.Mutex
	slot      *Slot
	openLogID int64 // history row of the current reservation, 0 if none

	sessions postgres.SessionLogRepository
	bus      events.Publisher
	cfg      config.ShowerConfig
	now      Clock
}

func NewService(sessions postgres.SessionLogRepository, bus events.Publisher, cfg config.ShowerConfig, clock Clock) Service {
	if clock == nil {
		clock = time.Now
	}
	return &service{
		slot:     NewSlot(),
		sessions: sessions,
		bus:      bus,
		cfg:      cfg,
		now:      clock,
	}
}

// ended captures a finished reservation while still under the lock, so
// history close and event publishing happen after the mutation commits.
type ended struct {
	reservation *domain.Reservation
	logID       int64
	expired     bool
	silent      bool // replaced by its own holder, no end event
	at          time.Time
}

func (s *service) Start(ctx context.Context, user *domain.User, durationMinutes int) (*domain.Reservation, error) {
	maxMinutes := int(s.cfg.MaxDuration / time.Minute)
	if durationMinutes <= 0 || durationMinutes > maxMinutes {
		return nil, fmt.Errorf("duration must be between 1 and %d minutes: %w", maxMinutes, domain.ErrInvalidDuration)
	}

	now := s.now()

	s.mu.Lock()

	var prev *ended
	if current := s.slot.Get(); current != nil {
		switch {
		case current.Expired(now):
			prev = s.expireLocked()
		case current.HolderID != user.ID:
			s.mu.Unlock()
			return nil, domain.ErrAlreadyOccupied
		default:
			// The holder restarts their own session; the old one is
			// closed in the history without an end event.
			prev = &ended{reservation: current, logID: s.openLogID, silent: true, at: now}
			s.slot.Clear()
			s.openLogID = 0
		}
	}

	res := &domain.Reservation{
		HolderID: user.ID,
		Holder:   user.Username,
		StartAt:  now,
		Duration: time.Duration(durationMinutes) * time.Minute,
	}
	s.slot.Set(res)

	// History is best-effort: a failed insert never blocks the shower.
	logID, err := s.sessions.Open(ctx, user.ID, user.Username, durationMinutes, now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record shower session", "error", err, "username", user.Username)
	}
	s.openLogID = logID

	s.mu.Unlock()

	if prev != nil {
		s.finishSession(ctx, prev)
	}
	s.publishStarted(ctx, res)

	return res, nil
}

func (s *service) End(ctx context.Context, user *domain.User) (string, error) {
	now := s.now()

	s.mu.Lock()

	current := s.slot.Get()
	if current != nil && current.Expired(now) {
		prev := s.expireLocked()
		s.mu.Unlock()
		s.finishSession(ctx, prev)
		return "", domain.ErrNoActiveReservation
	}
	if current == nil {
		s.mu.Unlock()
		return "", domain.ErrNoActiveReservation
	}
	if current.HolderID != user.ID {
		s.mu.Unlock()
		return "", domain.ErrNotHolder
	}

	prev := &ended{reservation: current, logID: s.openLogID, at: now}
	s.slot.Clear()
	s.openLogID = 0

	s.mu.Unlock()

	s.finishSession(ctx, prev)

	return current.Holder, nil
}

func (s *service) Status(ctx context.Context) *domain.Status {
	now := s.now()

	s.mu.Lock()

	current := s.slot.Get()
	if current == nil {
		s.mu.Unlock()
		return &domain.Status{Status: domain.StatusFree}
	}

	if current.Expired(now) {
		prev := s.expireLocked()
		s.mu.Unlock()
		s.finishSession(ctx, prev)
		return &domain.Status{Status: domain.StatusFree}
	}

	status := &domain.Status{
		Status:        domain.StatusOccupied,
		User:          current.Holder,
		RemainingTime: current.RemainingMinutes(now),
	}
	s.mu.Unlock()

	return status
}

func (s *service) History(ctx context.Context, limit int) ([]domain.Session, error) {
	sessions, err := s.sessions.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list shower history: %w", err)
	}
	return sessions, nil
}

// RunSweeper proactively expires stale reservations so observers hear the
// end event at expiry time instead of on next access. Returns when ctx is
// canceled; a no-op if the sweep interval is zero.
func (s *service) RunSweeper(ctx context.Context) error {
	if s.cfg.SweepInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *service) sweep(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	current := s.slot.Get()
	if current == nil || !current.Expired(now) {
		s.mu.Unlock()
		return
	}
	prev := s.expireLocked()
	s.mu.Unlock()

	s.finishSession(ctx, prev)
}

// expireLocked clears an expired reservation. Caller must hold the mutex
// and has already checked Expired. The end timestamp is the expiry
// instant, not the observation instant.
func (s *service) expireLocked() *ended {
	current := s.slot.Get()
	prev := &ended{
		reservation: current,
		logID:       s.openLogID,
		expired:     true,
		at:          current.ExpiresAt(),
	}
	s.slot.Clear()
	s.openLogID = 0
	return prev
}

// finishSession closes the history row and publishes the end events.
// Runs after the state mutation is committed.
func (s *service) finishSession(ctx context.Context, prev *ended) {
	if prev.logID != 0 {
		if err := s.sessions.Close(ctx, prev.logID, prev.at, prev.expired); err != nil {
			logger.ErrorContext(ctx, "Failed to close shower session", "error", err, "session_id", prev.logID)
		}
	}

	if prev.silent {
		return
	}

	holder := prev.reservation.Holder

	s.publish(ctx, events.ShowerEnded, events.ShowerEndedEvent{
		Username: holder,
		Expired:  prev.expired,
		EndedAt:  prev.at,
	})

	message := fmt.Sprintf("%s finished using the shower. It is free now!", holder)
	if prev.expired {
		message = fmt.Sprintf("%s's shower time is up. It is free now!", holder)
	}
	s.publish(ctx, events.NotifySend, events.NotificationEvent{
		Message:   message,
		Actor:     holder,
		Kind:      "end",
		Timestamp: prev.at,
	})

	s.publishStatus(ctx)
}

func (s *service) publishStarted(ctx context.Context, res *domain.Reservation) {
	s.publish(ctx, events.ShowerStarted, events.ShowerStartedEvent{
		Username:  res.Holder,
		Duration:  res.Minutes(),
		StartedAt: res.StartAt,
	})

	s.publish(ctx, events.NotifySend, events.NotificationEvent{
		Message:   fmt.Sprintf("%s started using the shower for %d minutes", res.Holder, res.Minutes()),
		Actor:     res.Holder,
		Kind:      "start",
		Timestamp: res.StartAt,
	})

	s.publishStatus(ctx)
}

func (s *service) publishStatus(ctx context.Context) {
	status := s.Status(ctx)
	s.publish(ctx, events.ShowerStatus, events.StatusEvent{
		Status:        status.Status,
		User:          status.User,
		RemainingTime: status.RemainingTime,
	})
}

func (s *service) publish(ctx context.Context, subject string, payload interface{}) {
	if err := s.bus.Publish(ctx, subject, payload); err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "error", err, "subject", subject)
	}
}
