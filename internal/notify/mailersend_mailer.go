package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendWelcomeEmail(toEmail, toName string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := "Welcome to the shower booking app"
	text := fmt.Sprintf("Hi %s,\n\nYour account is ready. You'll get an alert whenever someone starts or finishes using the shower.", toName)
	html := fmt.Sprintf(`
		<h2>Welcome, %s!</h2>
		<p>Your account is ready.</p>
		<p>You'll get an alert whenever someone starts or finishes using the shower. You can turn email alerts off in the app.</p>
	`, toName)

	return m.sendEmail(toEmail, toName, subject, text, html)
}

func (m *MailerSendClient) SendShowerAlert(toEmail, toName, message string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := "🚿 Shower update"
	html := fmt.Sprintf(`
		<h2>🚿 Shower update</h2>
		<p>%s</p>
	`, message)

	return m.sendEmail(toEmail, toName, subject, message, html)
}

func (m *MailerSendClient) sendEmail(toEmail, toName, subject, text, html string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)

	if strings.TrimSpace(text) != "" {
		msg.SetText(text)
	}
	if strings.TrimSpace(html) != "" {
		msg.SetHTML(html)
	}

	_, err := m.client.Email.Send(ctx, msg)
	return err
}
