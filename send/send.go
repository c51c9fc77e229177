// Package send implements the message-sending job types: a single
// contact send, a group send and a bulk send over a caller-supplied list.
//
// Every recipient is billed on its own with a conditional debit taken
// just before the transport call. A recipient that cannot be billed or
// delivered is recorded as a failed Outcome and the batch moves on, so
// a BatchResult always enumerates every resolved recipient in order.
package send

import (
	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/recipient"
)

// Job types registered by this package. The type is also the queue lane.
const (
	TypeContact = "send-to-contact"
	TypeGroup   = "send-to-group"
	TypeBulk    = "bulk-send"
)

// ContactPayload is the payload of a send-to-contact job.
type ContactPayload struct {
	UserID    string               `json:"user_id"`
	Channel   ledger.Channel       `json:"channel"`
	Kind      recipient.Kind       `json:"kind"`
	Recipient recipient.Ref        `json:"recipient"`
	Resolved  *recipient.Recipient `json:"resolved,omitempty"`
	Subject   string               `json:"subject,omitempty"`
	Body      string               `json:"body"`
	UnitCost  int64                `json:"unit_cost"`
}

// BatchPayload is the payload of send-to-group and bulk-send jobs.
// Recipients are resolved before enqueue and sent in order.
type BatchPayload struct {
	UserID     string                `json:"user_id"`
	Channel    ledger.Channel        `json:"channel"`
	Kind       recipient.Kind        `json:"kind"`
	GroupID    string                `json:"group_id,omitempty"`
	Recipients []recipient.Recipient `json:"recipients"`
	Subject    string                `json:"subject,omitempty"`
	Body       string                `json:"body"`
	UnitCost   int64                 `json:"unit_cost"`
}

// ContactResult is the result of a send-to-contact job.
type ContactResult struct {
	Success     bool   `json:"success"`
	MessageID   int64  `json:"message_id,omitempty"`
	Error       string `json:"error,omitempty"`
	Cost        int64  `json:"cost"`
	Destination string `json:"destination"`
}

// Outcome is the result of one recipient in a batch. A successful
// outcome carries the message id; a failed one carries the error text.
type Outcome struct {
	Destination string `json:"destination"`
	ContactRef  string `json:"contact_ref,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	MessageID   int64  `json:"message_id,omitempty"`
	Cost        int64  `json:"cost"`
}

// BatchResult aggregates the outcomes of a group or bulk send.
// Processed+Failed always equals len(Outcomes).
type BatchResult struct {
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	TotalCost int64     `json:"total_cost"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (r *BatchResult) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Success {
		r.Processed++
		r.TotalCost += o.Cost
		return
	}
	r.Failed++
}

// Pricing is the per-message unit cost of each kind, in minor units.
type Pricing struct {
	SMS   int64 `json:"sms"`
	Email int64 `json:"email"`
}

// UnitCost returns the price of one message of kind k.
func (p Pricing) UnitCost(k recipient.Kind) int64 {
	if k == recipient.KindEmail {
		return p.Email
	}
	return p.SMS
}
