package alerts

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Email sends alerts through SendGrid
type Email struct {
	client mailSender
	from   *mail.Email
	to     *mail.Email
}

// NewEmail creates an Email channel delivering to the given address
func NewEmail(apiKey, to string) *Email {
	return &Email{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail("Haven Alerts", "no-reply@haven.example"),
		to:     mail.NewEmail("Haven Counselors", to),
	}
}

// Name implements Channel
func (e *Email) Name() string { return "email" }

// Notify implements Channel
func (e *Email) Notify(ctx context.Context, a Alert) error {
	message := mail.NewSingleEmail(e.from, a.Subject, e.to, a.Text, a.HTML)
	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}
	return nil
}
