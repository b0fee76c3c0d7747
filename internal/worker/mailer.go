package worker

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"

	"github.com/wneessen/go-mail"
)

// ErrMailRejected wraps send errors the server answered with a permanent
// (5xx) reply. Retrying the same message cannot succeed.
var ErrMailRejected = errors.New("mail rejected by server")

// Message is a plain-text email produced by a SEND_EMAIL step.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// Mailer delivers automation emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends each message over its own SMTP session.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	mm := mail.NewMsg()
	if err := mm.From(m.from); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	if err := mm.AddToFormat(msg.ToName, msg.To); err != nil {
		return fmt.Errorf("setting recipient %s: %w", msg.To, err)
	}
	mm.Subject(msg.Subject)
	mm.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := m.client.DialAndSendWithContext(ctx, mm); err != nil {
		if smtpRejected(err) {
			return fmt.Errorf("sending mail to %s: %w: %w", msg.To, ErrMailRejected, err)
		}
		return fmt.Errorf("sending mail to %s: %w", msg.To, err)
	}
	return nil
}

// smtpRejected reports whether the server refused the recipient with a 5xx
// reply. Dial and I/O failures carry no reply code and stay retryable, as do
// sender rejections, which point at our own configuration.
func smtpRejected(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.Reason == mail.ErrSMTPRcptTo && sendErr.ErrorCode() >= 500
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 500
	}
	return false
}
