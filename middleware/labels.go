package middleware

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/xraph/herald"
	"github.com/xraph/herald/job"
)

// Outcome classes attached to attempt logs, spans and metrics.
const (
	OutcomeOK                  = "ok"
	OutcomeInsufficientBalance = "insufficient_balance"
	OutcomeValidation          = "validation"
	OutcomeNotFound            = "not_found"
	OutcomeTransport           = "transport"
	OutcomeTimeout             = "timeout"
	OutcomeCanceled            = "canceled"
	OutcomePanic               = "panic"
	OutcomeError               = "error"
)

// ErrHandlerPanic marks the error Recover returns for a panicking handler.
var ErrHandlerPanic = errors.New("handler panicked")

// Classify maps the error of an attempt onto an outcome class. A
// transport failure caused by the per-send deadline stays a transport
// failure; only the attempt deadline counts as a timeout.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrHandlerPanic):
		return OutcomePanic
	case errors.Is(err, herald.ErrInsufficientBalance):
		return OutcomeInsufficientBalance
	case errors.Is(err, herald.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, herald.ErrContactNotFound), errors.Is(err, herald.ErrGroupNotFound):
		return OutcomeNotFound
	case errors.Is(err, herald.ErrTransport):
		return OutcomeTransport
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// sendLabels describes the send behind an attempt. Job types that are
// not sends leave every field empty.
type sendLabels struct {
	channel    string
	kind       string
	groupID    string
	recipients int
}

// sendFields are the payload fields shared by the send job types.
type sendFields struct {
	Channel    string            `json:"channel"`
	Kind       string            `json:"kind"`
	GroupID    string            `json:"group_id"`
	Recipient  json.RawMessage   `json:"recipient"`
	Recipients []json.RawMessage `json:"recipients"`
}

func labelsOf(j *job.Job) sendLabels {
	var f sendFields
	if len(j.Payload) == 0 || json.Unmarshal(j.Payload, &f) != nil {
		return sendLabels{}
	}
	l := sendLabels{channel: f.Channel, kind: f.Kind, groupID: f.GroupID, recipients: len(f.Recipients)}
	if len(f.Recipient) > 0 {
		l.recipients = 1
	}
	return l
}

// willRetry reports whether the worker schedules another attempt after
// err.
func willRetry(j *job.Job, err error) bool {
	return err != nil && !job.IsPermanent(err) && j.AttemptsMade < j.MaxAttempts
}
