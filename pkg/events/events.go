package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chuveirolab/shower-bookings/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Subjects published by the reservation service. "shower.>" covers
// everything a connected client cares about.
const (
	ShowerStarted = "shower.started"
	ShowerEnded   = "shower.ended"
	ShowerStatus  = "shower.status"
	NotifySend    = "notify.send"
)

// Event payloads

type ShowerStartedEvent struct {
	Username  string    `json:"username"`
	Duration  int       `json:"duration"`
	StartedAt time.Time `json:"started_at"`
}

type ShowerEndedEvent struct {
	Username string    `json:"username"`
	Expired  bool      `json:"expired"`
	EndedAt  time.Time `json:"ended_at"`
}

// StatusEvent mirrors the GET /api/shower/status response so connected
// clients can render without an extra round trip.
type StatusEvent struct {
	Status        string `json:"status"`
	User          string `json:"user,omitempty"`
	RemainingTime int    `json:"remaining_time,omitempty"`
}

// NotificationEvent is the human-readable fan-out payload, also handed to
// external notification sinks (email, push).
type NotificationEvent struct {
	Message   string    `json:"message"`
	Actor     string    `json:"actor"`
	Kind      string    `json:"kind"` // start | end
	Timestamp time.Time `json:"timestamp"`
}
