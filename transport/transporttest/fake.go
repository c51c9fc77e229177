// Package transporttest provides a scripted in-memory transport for
// tests. Each destination can be given a queue of errors that are
// returned, in order, on successive sends.
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/herald/transport"
)

var (
	_ transport.SMSSender   = (*Fake)(nil)
	_ transport.EmailSender = (*Fake)(nil)
)

// Sent is one delivery accepted by the Fake.
type Sent struct {
	Destination string
	Subject     string
	Body        string
	At          time.Time
}

// Fake implements SMSSender and EmailSender.
type Fake struct {
	mu      sync.Mutex
	scripts map[string][]error
	failAll error
	delay   time.Duration
	sent    []Sent
	calls   map[string]int
	nextRef int
}

// New returns a Fake that accepts everything.
func New() *Fake {
	return &Fake{
		scripts: make(map[string][]error),
		calls:   make(map[string]int),
	}
}

// Script queues errs for destination. A nil entry means that attempt
// succeeds. Once the queue is empty sends succeed.
func (f *Fake) Script(destination string, errs ...error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[destination] = append(f.scripts[destination], errs...)
	return f
}

// FailAll makes every send fail with err until reset with nil.
func (f *Fake) FailAll(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = err
	return f
}

// WithDelay makes every send sleep for d first.
func (f *Fake) WithDelay(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// SendSMS records an SMS or returns the next scripted error.
func (f *Fake) SendSMS(ctx context.Context, destination, body string) (transport.SMSResult, error) {
	ref, err := f.send(ctx, Sent{Destination: destination, Body: body})
	if err != nil {
		return transport.SMSResult{}, err
	}
	return transport.SMSResult{ProviderRef: ref}, nil
}

// SendEmail records an email or returns the next scripted error.
func (f *Fake) SendEmail(ctx context.Context, e transport.Email) error {
	_, err := f.send(ctx, Sent{Destination: e.To, Subject: e.Subject, Body: e.Body})
	return err
}

func (f *Fake) send(ctx context.Context, s Sent) (string, error) {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[s.Destination]++
	if f.failAll != nil {
		return "", f.failAll
	}
	if q := f.scripts[s.Destination]; len(q) > 0 {
		err := q[0]
		f.scripts[s.Destination] = q[1:]
		if err != nil {
			return "", err
		}
	}
	s.At = time.Now().UTC()
	f.sent = append(f.sent, s)
	f.nextRef++
	return fmt.Sprintf("fake-%d", f.nextRef), nil
}

// Sent returns the accepted deliveries in order.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Calls returns how many sends were attempted for destination.
func (f *Fake) Calls(destination string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[destination]
}
