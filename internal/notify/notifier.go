package notify

import (
	"context"
	"encoding/json"

	"github.com/chuveirolab/shower-bookings/internal/repo/postgres"
	"github.com/chuveirolab/shower-bookings/pkg/events"
	"github.com/chuveirolab/shower-bookings/pkg/logger"
)

// Notifier is the email sink on the notification channel: it consumes
// notify.send events and mails every user who opted into alerts, except
// the actor who caused the event. Delivery is best-effort; failures are
// logged and never retried here.
type Notifier struct {
	users  postgres.UserRepository
	mailer Mailer
}

func NewNotifier(users postgres.UserRepository, mailer Mailer) *Notifier {
	return &Notifier{
		users:  users,
		mailer: mailer,
	}
}

// BindEvents subscribes the notifier to the bus.
func (n *Notifier) BindEvents(bus events.Subscriber) error {
	return bus.Subscribe(events.NotifySend, func(msg *events.Message) {
		var event events.NotificationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("Failed to decode notification event", "error", err)
			return
		}
		n.deliver(context.Background(), &event)
	})
}

func (n *Notifier) deliver(ctx context.Context, event *events.NotificationEvent) {
	recipients, err := n.users.ListAlertRecipients(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list alert recipients", "error", err)
		return
	}

	for _, user := range recipients {
		if user.Username == event.Actor {
			continue
		}
		if err := n.mailer.SendShowerAlert(user.Email, user.Username, event.Message); err != nil {
			logger.ErrorContext(ctx, "Failed to send shower alert",
				"error", err,
				"to", user.Email,
				"kind", event.Kind,
			)
		}
	}
}
