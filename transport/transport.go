// Package transport defines the outbound delivery contracts for SMS and
// email. Wire protocols live in the smpp and smtp subpackages; the
// transporttest subpackage provides a scripted fake for tests.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/herald"
	"github.com/xraph/herald/recipient"
)

// SMSResult is what a gateway reports for an accepted short message.
type SMSResult struct {
	// ProviderRef is the gateway's message id, if it returned one.
	ProviderRef string
}

// SMSSender delivers a short message to one destination.
type SMSSender interface {
	SendSMS(ctx context.Context, destination, body string) (SMSResult, error)
}

// Email is a single outbound email.
type Email struct {
	To      string
	Subject string
	Body    string
	HTML    string
}

// EmailSender delivers an email.
type EmailSender interface {
	SendEmail(ctx context.Context, e Email) error
}

// Message is a kind-agnostic send request used by the Mux.
type Message struct {
	Kind        recipient.Kind
	Destination string
	Subject     string
	Body        string
}

// Mux routes messages to the sender for their kind.
type Mux struct {
	SMS   SMSSender
	Email EmailSender
}

// Send delivers msg and returns the provider reference, if any. Every
// failure is reported as herald.ErrTransport so callers can tell a
// delivery problem from a programming error.
func (m *Mux) Send(ctx context.Context, msg Message) (string, error) {
	switch msg.Kind {
	case recipient.KindSMS:
		if m.SMS == nil {
			return "", fmt.Errorf("%w: no sms sender configured", herald.ErrTransport)
		}
		res, err := m.SMS.SendSMS(ctx, msg.Destination, msg.Body)
		if err != nil {
			return "", Wrap(err)
		}
		return res.ProviderRef, nil
	case recipient.KindEmail:
		if m.Email == nil {
			return "", fmt.Errorf("%w: no email sender configured", herald.ErrTransport)
		}
		err := m.Email.SendEmail(ctx, Email{To: msg.Destination, Subject: msg.Subject, Body: msg.Body})
		if err != nil {
			return "", Wrap(err)
		}
		return "", nil
	default:
		return "", fmt.Errorf("%w: unknown message kind %q", herald.ErrValidation, msg.Kind)
	}
}

// Wrap marks err as a transport failure unless it already is one.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, herald.ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", herald.ErrTransport, err)
}
