package ws

import (
	"context"
	"encoding/json"

	"github.com/chuveirolab/shower-bookings/pkg/events"
	"github.com/chuveirolab/shower-bookings/pkg/logger"
)

// Hub fans reservation events out to every connected client. Delivery is
// best-effort and at-most-once: a client that disconnects misses events
// and resyncs through GET /api/shower/status on reconnect.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	count      chan chan int
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		count:      make(chan chan int),
	}
}

// Run owns the client set; register, unregister and broadcast are
// serialized here so no lock is needed. Returns when ctx is canceled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return ctx.Err()
		case client := <-h.register:
			h.clients[client] = true
			logger.Debug("Websocket client connected", "clients", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				logger.Debug("Websocket client disconnected", "clients", len(h.clients))
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		case payload := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Slow consumer; drop it rather than block the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// ClientCount reports the number of connected clients. Answered by Run,
// so it blocks until the hub is running.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	h.count <- reply
	return <-reply
}

// Envelope is the wire frame sent to clients.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Broadcast queues an event frame for every connected client.
func (h *Hub) Broadcast(event string, data json.RawMessage) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		logger.Error("Failed to marshal websocket envelope", "error", err, "event", event)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		logger.Warn("Websocket broadcast queue full, dropping event", "event", event)
	}
}

// clientEvents maps bus subjects onto the event names the browser client
// listens for.
var clientEvents = map[string]string{
	events.ShowerStarted: "shower_started",
	events.ShowerEnded:   "shower_ended",
	events.ShowerStatus:  "status_update",
	events.NotifySend:    "notification",
}

// BindEvents subscribes the hub to the reservation subjects on the bus.
func (h *Hub) BindEvents(bus events.Subscriber) error {
	for subject, event := range clientEvents {
		event := event
		if err := bus.Subscribe(subject, func(msg *events.Message) {
			h.Broadcast(event, msg.Data)
		}); err != nil {
			return err
		}
	}
	return nil
}
