package send

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/message"
	"github.com/xraph/herald/recipient"
	"github.com/xraph/herald/transport"
)

// Transport delivers one message and returns the provider reference.
// *transport.Mux satisfies it.
type Transport interface {
	Send(ctx context.Context, msg transport.Message) (string, error)
}

// Handlers holds the collaborators of the send job handlers.
type Handlers struct {
	ledger     *ledger.Ledger
	resolver   *recipient.Resolver
	transport  Transport
	messages    message.Log
	sendTimeout time.Duration
	extensions  *ext.Registry
	logger      *slog.Logger
}

// NewHandlers builds the handlers from deps. extensions may be nil.
func NewHandlers(deps Deps, extensions *ext.Registry) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	sendTimeout := deps.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Handlers{
		ledger:      deps.Ledger,
		resolver:    deps.Resolver,
		transport:   deps.Transport,
		messages:    deps.Messages,
		sendTimeout: sendTimeout,
		extensions:  extensions,
		logger:      logger,
	}
}

// delivery is what deliver needs to know about the send being served.
type delivery struct {
	jobType string
	userID  string
	channel ledger.Channel
	kind    recipient.Kind
	subject string
	body    string
	cost    int64
}

// deliver debits, reserves a message row, sends, and marks the row with
// the result. The returned Outcome is always populated; the error is the
// cause of a failed one. Any failure after the debit refunds it, so a
// successful Outcome always carries the id of a recorded message.
func (h *Handlers) deliver(ctx context.Context, d delivery, rcpt recipient.Recipient) (Outcome, error) {
	out := Outcome{Destination: rcpt.Destination, ContactRef: rcpt.ContactRef}
	debit := ledger.Debit{UserID: d.userID, Channel: d.channel, Amount: d.cost}
	// Refunds and marks must land even if the attempt is cancelled.
	bookCtx := context.WithoutCancel(ctx)

	if err := h.ledger.Debit(ctx, debit); err != nil {
		return h.failed(ctx, d, out, err), err
	}

	msg := &message.Message{
		UserID:      d.userID,
		Channel:     string(d.channel),
		Kind:        string(d.kind),
		ContactRef:  rcpt.ContactRef,
		Destination: rcpt.Destination,
		Subject:     d.subject,
		Body:        d.body,
		Cost:        d.cost,
		Status:      message.StatusPending,
	}
	if j, ok := job.FromContext(ctx); ok {
		msg.JobID = j.ID.String()
	}
	msgID, err := h.messages.RecordMessage(ctx, msg)
	if err != nil {
		_ = h.ledger.Refund(bookCtx, debit) //nolint:errcheck // logged by the ledger
		err = fmt.Errorf("reserve message: %w", err)
		return h.failed(ctx, d, out, err), err
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	providerRef, err := h.transport.Send(sendCtx, transport.Message{
		Kind:        d.kind,
		Destination: rcpt.Destination,
		Subject:     d.subject,
		Body:        d.body,
	})
	cancel()
	if err != nil {
		_ = h.ledger.Refund(bookCtx, debit) //nolint:errcheck // logged by the ledger
		h.mark(bookCtx, d, msgID, message.StatusFailed, "")
		return h.failed(ctx, d, out, err), err
	}
	h.mark(bookCtx, d, msgID, message.StatusSent, providerRef)

	out.Success = true
	out.Cost = d.cost
	out.MessageID = msgID

	h.extensions.EmitMessageSent(ctx, ext.SendEvent{
		JobType:     d.jobType,
		UserID:      d.userID,
		Channel:     string(d.channel),
		Kind:        string(d.kind),
		Destination: rcpt.Destination,
		Cost:        d.cost,
		MessageID:   msgID,
	})
	return out, nil
}

// mark records the transport result on a reserved row. A failure leaves
// the row pending; the delivery itself already happened or was refunded.
func (h *Handlers) mark(ctx context.Context, d delivery, msgID int64, status message.Status, providerRef string) {
	if err := h.messages.MarkMessage(ctx, msgID, status, providerRef); err != nil {
		h.logger.Error("failed to mark message",
			slog.String("job_type", d.jobType),
			slog.String("user_id", d.userID),
			slog.Int64("message_id", msgID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handlers) failed(ctx context.Context, d delivery, out Outcome, err error) Outcome {
	out.Success = false
	out.Error = err.Error()
	h.logger.Debug("recipient not served",
		slog.String("job_type", d.jobType),
		slog.String("user_id", d.userID),
		slog.String("destination", out.Destination),
		slog.String("error", err.Error()),
	)
	h.extensions.EmitMessageFailed(ctx, ext.SendEvent{
		JobType:     d.jobType,
		UserID:      d.userID,
		Channel:     string(d.channel),
		Kind:        string(d.kind),
		Destination: out.Destination,
		Err:         err,
	})
	return out
}

// Contact handles a send-to-contact job. Transport failures are returned
// so the job is retried; the debit has already been refunded. Missing
// funds and unresolvable recipients fail the job permanently.
func (h *Handlers) Contact(ctx context.Context, p ContactPayload) (ContactResult, error) {
	if err := validateCommon(p.UserID, p.Channel, p.Kind, p.Body); err != nil {
		return ContactResult{}, job.Permanent(err)
	}

	var rcpt recipient.Recipient
	if p.Resolved != nil {
		rcpt = *p.Resolved
	} else {
		r, err := h.resolver.ResolveContact(ctx, p.UserID, p.Kind, p.Recipient)
		if err != nil {
			return ContactResult{}, job.Permanent(err)
		}
		rcpt = r
	}

	out, err := h.deliver(ctx, delivery{
		jobType: TypeContact,
		userID:  p.UserID,
		channel: p.Channel,
		kind:    p.Kind,
		subject: p.Subject,
		body:    p.Body,
		cost:    p.UnitCost,
	}, rcpt)
	if err != nil {
		if errors.Is(err, herald.ErrInsufficientBalance) || errors.Is(err, herald.ErrValidation) {
			return ContactResult{}, job.Permanent(err)
		}
		return ContactResult{}, err
	}

	return ContactResult{
		Success:     true,
		MessageID:   out.MessageID,
		Cost:        out.Cost,
		Destination: out.Destination,
	}, nil
}

// Batch handles send-to-group and bulk-send jobs. Recipients are served
// one at a time in payload order and progress is reported after each.
// Per-recipient failures never fail the job. The loop ignores the attempt
// deadline and stops early only when the worker aborts the attempt; each
// transport call is bounded on its own.
func (h *Handlers) Batch(jobType string) func(ctx context.Context, p BatchPayload) (BatchResult, error) {
	return func(ctx context.Context, p BatchPayload) (BatchResult, error) {
		if err := validateCommon(p.UserID, p.Channel, p.Kind, p.Body); err != nil {
			return BatchResult{}, job.Permanent(err)
		}
		ctx, cancel := job.Detach(ctx)
		defer cancel()

		d := delivery{
			jobType: jobType,
			userID:  p.UserID,
			channel: p.Channel,
			kind:    p.Kind,
			subject: p.Subject,
			body:    p.Body,
			cost:    p.UnitCost,
		}
		total := len(p.Recipients)
		res := BatchResult{Outcomes: make([]Outcome, 0, total)}

		for i, rcpt := range p.Recipients {
			if err := ctx.Err(); err != nil {
				// Forced shutdown: account for the rest without billing.
				res.add(h.failed(ctx, d, Outcome{Destination: rcpt.Destination, ContactRef: rcpt.ContactRef}, err))
			} else {
				out, _ := h.deliver(ctx, d, rcpt) //nolint:errcheck // recorded in the outcome
				res.add(out)
			}
			job.ReportProgress(ctx, job.Percent(i+1, total))
		}

		h.logger.Info("batch finished",
			slog.String("job_type", jobType),
			slog.String("user_id", p.UserID),
			slog.String("group_id", p.GroupID),
			slog.Int("processed", res.Processed),
			slog.Int("failed", res.Failed),
			slog.Int64("total_cost", res.TotalCost),
		)
		return res, nil
	}
}

func validateCommon(userID string, channel ledger.Channel, kind recipient.Kind, body string) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: user id is required", herald.ErrValidation)
	case !channel.Valid():
		return fmt.Errorf("%w: unknown balance channel %q", herald.ErrValidation, channel)
	case !kind.Valid():
		return fmt.Errorf("%w: unknown message kind %q", herald.ErrValidation, kind)
	case body == "":
		return fmt.Errorf("%w: message body is required", herald.ErrValidation)
	}
	return nil
}
