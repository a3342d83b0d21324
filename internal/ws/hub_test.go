package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chuveirolab/shower-bookings/pkg/events"
)

type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]func(*events.Message)
}

func (b *fakeBus) Subscribe(subject string, handler func(msg *events.Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = handler
	return nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) emit(subject string, data []byte) {
	b.mu.Lock()
	handler := b.handlers[subject]
	b.mu.Unlock()
	handler(&events.Message{Subject: subject, Data: data, Timestamp: time.Now()})
}

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.Serve))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("Failed to unmarshal envelope: %v", err)
	}
	return env
}

func TestBroadcast_ReachesAllClients(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := newHubServer(t, hub)

	first := dial(t, server)
	second := dial(t, server)

	// Registration races the broadcast; wait for both clients to land.
	waitForClients(t, hub, 2)

	data, _ := json.Marshal(map[string]string{"username": "alice"})
	hub.Broadcast("shower_started", data)

	for _, conn := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, conn)
		if env.Event != "shower_started" {
			t.Fatalf("Expected shower_started, got %s", env.Event)
		}

		var payload map[string]string
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			t.Fatalf("Failed to unmarshal data: %v", err)
		}
		if payload["username"] != "alice" {
			t.Fatalf("Expected alice, got %s", payload["username"])
		}
	}
}

func TestBroadcast_OrderPreservedPerClient(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := newHubServer(t, hub)

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	sequence := []string{"shower_started", "status_update", "shower_ended"}
	for _, event := range sequence {
		hub.Broadcast(event, json.RawMessage(`{}`))
	}

	for _, want := range sequence {
		if env := readEnvelope(t, conn); env.Event != want {
			t.Fatalf("Expected %s, got %s", want, env.Event)
		}
	}
}

func TestBindEvents_TranslatesSubjects(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := newHubServer(t, hub)

	bus := &fakeBus{handlers: make(map[string]func(*events.Message))}
	if err := hub.BindEvents(bus); err != nil {
		t.Fatalf("BindEvents failed: %v", err)
	}

	for _, subject := range []string{events.ShowerStarted, events.ShowerEnded, events.ShowerStatus, events.NotifySend} {
		if _, ok := bus.handlers[subject]; !ok {
			t.Fatalf("Subject %s not subscribed", subject)
		}
	}

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	bus.emit(events.NotifySend, []byte(`{"message":"alice started using the shower for 10 minutes"}`))

	env := readEnvelope(t, conn)
	if env.Event != "notification" {
		t.Fatalf("Expected notification, got %s", env.Event)
	}
}

func TestRun_CancelDisconnectsClients(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	server := newHubServer(t, hub)

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("Expected connection to be closed")
	}
}

// waitForClients polls until the hub has registered n clients, so a
// broadcast right after dialing cannot race the registration.
func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d clients", n)
}
