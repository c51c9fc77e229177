// Package smtp delivers email through an SMTP relay.
package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/xraph/herald"
	"github.com/xraph/herald/transport"
)

var _ transport.EmailSender = (*Sender)(nil)

// Config holds relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is "mandatory", "opportunistic" or "none".
	TLS     string
	Timeout time.Duration
}

// Sender is an EmailSender backed by go-mail.
type Sender struct {
	cfg    Config
	client *mail.Client
	logger *slog.Logger
}

// New creates a Sender. No connection is made until the first send.
func New(cfg Config, logger *slog.Logger) (*Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
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
		return nil, fmt.Errorf("herald/smtp: new client: %w", err)
	}
	return &Sender{cfg: cfg, client: client, logger: logger}, nil
}

// SendEmail builds and delivers e over a fresh connection.
func (s *Sender) SendEmail(ctx context.Context, e transport.Email) error {
	msg, err := s.build(e)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: smtp send: %w", herald.ErrTransport, err)
	}
	s.logger.Debug("email sent", slog.String("to", e.To))
	return nil
}

func (s *Sender) build(e transport.Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("%w: invalid from address: %w", herald.ErrValidation, err)
	}
	if err := msg.To(e.To); err != nil {
		return nil, fmt.Errorf("%w: invalid to address: %w", herald.ErrValidation, err)
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextPlain, e.Body)
	if e.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, e.HTML)
	}
	return msg, nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch s {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}
