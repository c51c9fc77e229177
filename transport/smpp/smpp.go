// Package smpp delivers short messages through an SMPP 3.4 gateway
// using a bound transmitter session.
package smpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/fiorix/go-smpp/smpp"
	"github.com/fiorix/go-smpp/smpp/pdu/pdufield"
	"github.com/fiorix/go-smpp/smpp/pdu/pdutext"
	"golang.org/x/time/rate"

	"github.com/xraph/herald"
	"github.com/xraph/herald/transport"
)

var _ transport.SMSSender = (*Sender)(nil)

// Config holds gateway connection settings.
type Config struct {
	Addr        string
	User        string
	Password    string
	SystemType  string
	Source      string
	RespTimeout time.Duration
	// RatePerSec caps submit_sm throughput. Zero means unlimited.
	RatePerSec float64
}

// Sender is an SMSSender backed by an SMPP transmitter.
type Sender struct {
	cfg    Config
	tx     *smpp.Transmitter
	logger *slog.Logger
}

// New creates a Sender. Call Bind before sending.
func New(cfg Config, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RespTimeout <= 0 {
		cfg.RespTimeout = 10 * time.Second
	}
	tx := &smpp.Transmitter{
		Addr:        cfg.Addr,
		User:        cfg.User,
		Passwd:      cfg.Password,
		SystemType:  cfg.SystemType,
		RespTimeout: cfg.RespTimeout,
	}
	if cfg.RatePerSec > 0 {
		tx.RateLimiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Sender{cfg: cfg, tx: tx, logger: logger}
}

// Bind opens the session and waits for the first connection status.
// The transmitter keeps reconnecting in the background afterwards; the
// status stream is drained and logged until the sender is closed.
func (s *Sender) Bind(ctx context.Context) error {
	statuses := s.tx.Bind()
	select {
	case st := <-statuses:
		if st.Status() != smpp.Connected {
			return fmt.Errorf("%w: smpp bind %s: %v", herald.ErrTransport, s.cfg.Addr, st.Error())
		}
	case <-ctx.Done():
		_ = s.tx.Close()
		return ctx.Err()
	}
	s.logger.Info("smpp transmitter bound", slog.String("addr", s.cfg.Addr))

	go func() {
		for st := range statuses {
			if st.Status() == smpp.Connected {
				s.logger.Info("smpp transmitter reconnected", slog.String("addr", s.cfg.Addr))
				continue
			}
			s.logger.Warn("smpp connection status",
				slog.String("addr", s.cfg.Addr),
				slog.String("status", st.Status().String()),
				slog.Any("error", st.Error()),
			)
		}
	}()
	return nil
}

// SendSMS submits one short message and returns the gateway message id.
func (s *Sender) SendSMS(ctx context.Context, destination, body string) (transport.SMSResult, error) {
	if err := ctx.Err(); err != nil {
		return transport.SMSResult{}, err
	}
	sm, err := s.tx.Submit(&smpp.ShortMessage{
		Src:      s.cfg.Source,
		Dst:      destination,
		Text:     encode(body),
		Register: pdufield.NoDeliveryReceipt,
	})
	if err != nil {
		if errors.Is(err, smpp.ErrNotConnected) {
			return transport.SMSResult{}, fmt.Errorf("%w: smpp gateway not connected", herald.ErrTransport)
		}
		return transport.SMSResult{}, fmt.Errorf("%w: smpp submit: %w", herald.ErrTransport, err)
	}
	return transport.SMSResult{ProviderRef: sm.RespID()}, nil
}

// Close unbinds the session.
func (s *Sender) Close() error {
	return s.tx.Close()
}

// encode picks Latin1 for plain text and UCS2 when the body needs it.
func encode(body string) pdutext.Codec {
	for _, r := range body {
		if r > 0xFF || r == utf8.RuneError {
			return pdutext.UCS2(body)
		}
	}
	return pdutext.Latin1(body)
}
