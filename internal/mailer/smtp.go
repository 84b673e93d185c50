package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPSender sends mail over SMTP. A fresh client connection is made per
// send; the notifier's retry loop, not this type, decides how often to try.
type SMTPSender struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	UseTLS   bool
}

// Send builds and delivers one plain-text email to all recipients. Every
// failure comes back classified as a *TransportError.
func (s *SMTPSender) Send(ctx context.Context, recipients []string, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.From); err != nil {
		return NewTransportError(KindData, fmt.Errorf("invalid from address %q: %w", s.From, err))
	}
	if err := msg.To(recipients...); err != nil {
		return NewTransportError(KindRecipientsRefused, fmt.Errorf("invalid recipients: %w", err))
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := s.newClient()
	if err != nil {
		return NewTransportError(KindConnect, err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return Classify(err)
	}
	return nil
}

func (s *SMTPSender) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.Port),
	}

	if s.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if s.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.User),
			mail.WithPassword(s.Password),
		)
	}

	return mail.NewClient(s.Host, opts...)
}

var _ Sender = (*SMTPSender)(nil)
