// Package notify sends account lifecycle emails.
package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const senderName = "Task Manager"

// Recipient identifies who a message is addressed to.
type Recipient struct {
	Email string
	Name  string
}

// Message is one rendered email.
type Message struct {
	To      Recipient
	Subject string
	Text    string
}

// Notifier delivers a rendered message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Welcome renders the message sent after signup.
func Welcome(to Recipient) Message {
	return Message{
		To:      to,
		Subject: "Thanks for joining in!",
		Text:    fmt.Sprintf("Welcome to the Task Manager app, %s. Let me know how you get along with the app.", to.Name),
	}
}

// Cancellation renders the message sent after an account is deleted.
func Cancellation(to Recipient) Message {
	return Message{
		To:      to,
		Subject: "Sorry to see you go!",
		Text:    fmt.Sprintf("Goodbye, %s. I hope to see you back sometime soon.", to.Name),
	}
}

// SendGrid delivers messages through the SendGrid v3 API.
type SendGrid struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGrid creates a SendGrid notifier sending from the given address.
func NewSendGrid(apiKey, from string) *SendGrid {
	return &SendGrid{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(senderName, from),
	}
}

// Send implements Notifier.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	to := mail.NewEmail(msg.To.Name, msg.To.Email)
	resp, err := s.client.SendWithContext(ctx, mail.NewSingleEmail(s.from, msg.Subject, to, msg.Text, ""))
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: unexpected status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogOnly records messages instead of delivering them. It is used when no
// SendGrid key is configured.
type LogOnly struct {
	log *zap.Logger
}

// NewLogOnly creates a LogOnly notifier.
func NewLogOnly(log *zap.Logger) *LogOnly {
	return &LogOnly{log: log}
}

// Send implements Notifier.
func (l *LogOnly) Send(_ context.Context, msg Message) error {
	l.log.Info("email not sent, delivery disabled",
		zap.String("to", msg.To.Email),
		zap.String("subject", msg.Subject),
	)
	return nil
}
