package reservation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chuveirolab/shower-bookings/internal/domain"
	"github.com/chuveirolab/shower-bookings/internal/reservation"
	"github.com/chuveirolab/shower-bookings/pkg/config"
	"github.com/chuveirolab/shower-bookings/pkg/events"
)

// ---------- Mocks ----------

type capturedEvent struct {
	subject string
	payload interface{}
}

type captureBus struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (b *captureBus) Publish(_ context.Context, subject string, data interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, capturedEvent{subject: subject, payload: data})
	return nil
}

func (b *captureBus) Close() error { return nil }

func (b *captureBus) bySubject(subject string) []capturedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []capturedEvent
	for _, e := range b.events {
		if e.subject == subject {
			out = append(out, e)
		}
	}
	return out
}

type mockSessionLog struct {
	mu     sync.Mutex
	nextID int64
	opened []int64
	closed map[int64]bool
}

func newMockSessionLog() *mockSessionLog {
	return &mockSessionLog{nextID: 1, closed: make(map[int64]bool)}
}

func (m *mockSessionLog) Open(_ context.Context, _ int64, _ string, _ int, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.opened = append(m.opened, id)
	return id, nil
}

func (m *mockSessionLog) Close(_ context.Context, id int64, _ time.Time, expired bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[id] = expired
	return nil
}

func (m *mockSessionLog) ListRecent(_ context.Context, _ int) ([]domain.Session, error) {
	return nil, nil
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ---------- Test Setup ----------

var (
	alice = &domain.User{ID: 1, Username: "alice"}
	bob   = &domain.User{ID: 2, Username: "bob"}
)

func setupService() (reservation.Service, *captureBus, *fakeClock, *mockSessionLog) {
	bus := &captureBus{}
	clock := newFakeClock()
	log := newMockSessionLog()

	cfg := config.ShowerConfig{MaxDuration: 60 * time.Minute}
	svc := reservation.NewService(log, bus, cfg, clock.Now)

	return svc, bus, clock, log
}

// ---------- Tests ----------

func TestStart_FreeShower_Succeeds(t *testing.T) {
	svc, bus, _, _ := setupService()
	ctx := context.Background()

	res, err := svc.Start(ctx, alice, 10)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if res.Holder != "alice" || res.Minutes() != 10 {
		t.Fatalf("Unexpected reservation: holder=%s duration=%d", res.Holder, res.Minutes())
	}

	status := svc.Status(ctx)
	if status.Status != domain.StatusOccupied {
		t.Fatalf("Expected occupied, got %s", status.Status)
	}
	if status.User != "alice" || status.RemainingTime != 10 {
		t.Fatalf("Unexpected status: user=%s remaining=%d", status.User, status.RemainingTime)
	}

	started := bus.bySubject(events.ShowerStarted)
	if len(started) != 1 {
		t.Fatalf("Expected 1 start event, got %d", len(started))
	}
	event := started[0].payload.(events.ShowerStartedEvent)
	if event.Username != "alice" || event.Duration != 10 {
		t.Fatalf("Unexpected start event: %+v", event)
	}
}

func TestStart_InvalidDuration_Fails(t *testing.T) {
	svc, bus, _, _ := setupService()
	ctx := context.Background()

	tests := []struct {
		name     string
		duration int
	}{
		{"zero", 0},
		{"negative", -5},
		{"over maximum", 61},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Start(ctx, alice, tt.duration); !errors.Is(err, domain.ErrInvalidDuration) {
				t.Fatalf("Expected ErrInvalidDuration, got %v", err)
			}
		})
	}

	if status := svc.Status(ctx); status.Status != domain.StatusFree {
		t.Fatalf("Expected free after rejected starts, got %s", status.Status)
	}
	if len(bus.bySubject(events.ShowerStarted)) != 0 {
		t.Fatal("No start event expected for rejected starts")
	}
}

func TestStart_Occupied_OtherUserRejected(t *testing.T) {
	svc, _, _, _ := setupService()
	ctx := context.Background()

	if _, err := svc.Start(ctx, alice, 10); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := svc.Start(ctx, bob, 5); !errors.Is(err, domain.ErrAlreadyOccupied) {
		t.Fatalf("Expected ErrAlreadyOccupied, got %v", err)
	}

	// State unchanged
	status := svc.Status(ctx)
	if status.User != "alice" || status.RemainingTime != 10 {
		t.Fatalf("State changed by rejected start: %+v", status)
	}
}

func TestStart_Occupied_SameHolderRestarts(t *testing.T) {
	svc, bus, clock, log := setupService()
	ctx := context.Background()

	if _, err := svc.Start(ctx, alice, 10); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clock.Advance(3 * time.Minute)
	res, err := svc.Start(ctx, alice, 20)
	if err != nil {
		t.Fatalf("Restart by holder failed: %v", err)
	}
	if res.Minutes() != 20 {
		t.Fatalf("Expected 20 minute reservation, got %d", res.Minutes())
	}

	status := svc.Status(ctx)
	if status.RemainingTime != 20 {
		t.Fatalf("Expected 20 minutes remaining after restart, got %d", status.RemainingTime)
	}

	// The replaced session is closed in the history without an end event.
	if got := len(bus.bySubject(events.ShowerStarted)); got != 2 {
		t.Fatalf("Expected 2 start events, got %d", got)
	}
	if got := len(bus.bySubject(events.ShowerEnded)); got != 0 {
		t.Fatalf("Expected no end events on restart, got %d", got)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.opened) != 2 {
		t.Fatalf("Expected 2 opened sessions, got %d", len(log.opened))
	}
	if expired, ok := log.closed[log.opened[0]]; !ok || expired {
		t.Fatalf("Replaced session not closed cleanly: ok=%v expired=%v", ok, expired)
	}
}

func TestEnd_ByHolder_ClearsAndEmits(t *testing.T) {
	svc, bus, _, _ := setupService()
	ctx := context.Background()

	if _, err := svc.Start(ctx, alice, 10); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wrong user first
	if _, err := svc.End(ctx, bob); !errors.Is(err, domain.ErrNotHolder) {
		t.Fatalf("Expected ErrNotHolder, got %v", err)
	}
	if status := svc.Status(ctx); status.Status != domain.StatusOccupied {
		t.Fatal("State changed by rejected end")
	}

	holder, err := svc.End(ctx, alice)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if holder != "alice" {
		t.Fatalf("Expected holder alice, got %s", holder)
	}

	if status := svc.Status(ctx); status.Status != domain.StatusFree {
		t.Fatalf("Expected free after end, got %s", status.Status)
	}

	endedEvents := bus.bySubject(events.ShowerEnded)
	if len(endedEvents) != 1 {
		t.Fatalf("Expected 1 end event, got %d", len(endedEvents))
	}
	event := endedEvents[0].payload.(events.ShowerEndedEvent)
	if event.Username != "alice" || event.Expired {
		t.Fatalf("Unexpected end event: %+v", event)
	}
}

func TestEnd_Free_Fails(t *testing.T) {
	svc, _, _, _ := setupService()

	if _, err := svc.End(context.Background(), alice); !errors.Is(err, domain.ErrNoActiveReservation) {
		t.Fatalf("Expected ErrNoActiveReservation, got %v", err)
	}
}

func TestExpiry_LazyOnStatus(t *testing.T) {
	svc, bus, clock, _ := setupService()
	ctx := context.Background()

	if _, err := svc.Start(ctx, alice, 10); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clock.Advance(5 * time.Minute)
	status := svc.Status(ctx)
	if status.Status != domain.StatusOccupied || status.RemainingTime != 5 {
		t.Fatalf("Expected occupied with 5 minutes left, got %+v", status)
	}

	clock.Advance(6 * time.Minute) // now at t=11

	// Repeated observations all see free; expiry fires once.
	for i := 0; i < 3; i++ {
		if status := svc.Status(ctx); status.Status != domain.StatusFree {
			t.Fatalf("Expected free after expiry (query %d), got %s", i, status.Status)
		}
	}

	endedEvents := bus.bySubject(events.ShowerEnded)
	if len(endedEvents) != 1 {
		t.Fatalf("Expected exactly 1 end event, got %d", len(endedEvents))
	}
	event := endedEvents[0].payload.(events.ShowerEndedEvent)
	if event.Username != "alice" || !event.Expired {
		t.Fatalf("Unexpected expiry event: %+v", event)
	}
}

func TestExpiry_StartAfterExpiry_Succeeds(t *testing.T) {
	svc, bus, clock, _ := setupService()
	ctx := context.Background()

	if _, err := svc.Start(ctx, alice, 10); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clock.Advance(11 * time.Minute)

	// Bob starts directly; the stale reservation expires as a side effect.
	res, err := svc.Start(ctx, bob, 5)
	if err != nil {
		t.Fatalf("Start after expiry failed: %v", err)
	}
	if res.Holder != "bob" {
		t.Fatalf("Expected bob, got %s", res.Holder)
	}

	status := svc.Status(ctx)
	if status.User != "bob" || status.RemainingTime != 5 {
		t.Fatalf("Unexpected status: %+v", status)
	}

	endedEvents := bus.bySubject(events.ShowerEnded)
	if len(endedEvents) != 1 {
		t.Fatalf("Expected 1 expiry end event, got %d", len(endedEvents))
	}
	if event := endedEvents[0].payload.(events.ShowerEndedEvent); event.Username != "alice" || !event.Expired {
		t.Fatalf("Unexpected expiry event: %+v", event)
	}
}

func TestSessionLog_OpenedAndClosed(t *testing.T) {
	svc, _, _, log := setupService()
	ctx := context.Background()

	if _, err := svc.Start(ctx, alice, 10); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := svc.End(ctx, alice); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.opened) != 1 {
		t.Fatalf("Expected 1 opened session, got %d", len(log.opened))
	}
	expired, ok := log.closed[log.opened[0]]
	if !ok {
		t.Fatal("Session was never closed")
	}
	if expired {
		t.Fatal("Explicit end recorded as expiry")
	}
}

func TestNotification_EveryTransitionEmitsOne(t *testing.T) {
	svc, bus, _, _ := setupService()
	ctx := context.Background()

	if _, err := svc.Start(ctx, alice, 10); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := svc.End(ctx, alice); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	notifications := bus.bySubject(events.NotifySend)
	if len(notifications) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(notifications))
	}

	first := notifications[0].payload.(events.NotificationEvent)
	second := notifications[1].payload.(events.NotificationEvent)
	if first.Kind != "start" || second.Kind != "end" {
		t.Fatalf("Unexpected notification kinds: %s, %s", first.Kind, second.Kind)
	}
	if first.Actor != "alice" || second.Actor != "alice" {
		t.Fatalf("Unexpected notification actors: %s, %s", first.Actor, second.Actor)
	}
}

func TestConcurrentStarts_ExactlyOneWins(t *testing.T) {
	svc, _, _, _ := setupService()
	ctx := context.Background()

	users := make([]*domain.User, 8)
	for i := range users {
		users[i] = &domain.User{ID: int64(i + 1), Username: fmt.Sprintf("user%d", i+1)}
	}

	var wg sync.WaitGroup
	var successes int32
	for _, user := range users {
		wg.Add(1)
		go func(u *domain.User) {
			defer wg.Done()
			if _, err := svc.Start(ctx, u, 10); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}(user)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("Expected exactly 1 successful start, got %d", successes)
	}
	if status := svc.Status(ctx); status.Status != domain.StatusOccupied {
		t.Fatalf("Expected occupied, got %s", status.Status)
	}
}
