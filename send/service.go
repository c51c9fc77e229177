package send

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/herald"
	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/recipient"
)

// ContactRequest asks for one message to one recipient.
type ContactRequest struct {
	UserID    string         `json:"user_id"`
	Channel   ledger.Channel `json:"channel"`
	Kind      recipient.Kind `json:"kind"`
	Recipient recipient.Ref  `json:"recipient"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
}

// GroupRequest asks for one message to every deliverable group member.
// With AllowPartial set the send is enqueued even when the balance does
// not cover every recipient; the uncovered ones fail at send time.
type GroupRequest struct {
	UserID       string         `json:"user_id"`
	Channel      ledger.Channel `json:"channel"`
	Kind         recipient.Kind `json:"kind"`
	GroupID      string         `json:"group_id"`
	Subject      string         `json:"subject,omitempty"`
	Body         string         `json:"body"`
	AllowPartial bool           `json:"allow_partial,omitempty"`
}

// BulkRequest is a group send over a caller-supplied destination list.
type BulkRequest struct {
	UserID       string          `json:"user_id"`
	Channel      ledger.Channel  `json:"channel"`
	Kind         recipient.Kind  `json:"kind"`
	Recipients   []recipient.Ref `json:"recipients"`
	Subject      string          `json:"subject,omitempty"`
	Body         string          `json:"body"`
	AllowPartial bool            `json:"allow_partial,omitempty"`
}

// Plan summarises a batch before it is enqueued, so callers can report
// counts without waiting for the batch to run.
type Plan struct {
	ContactCount        int             `json:"contact_count"`
	ValidContactCount   int             `json:"valid_contact_count"`
	InvalidContactCount int             `json:"invalid_contact_count"`
	Estimate            ledger.Estimate `json:"estimate"`
}

// Service performs the pre-enqueue checks of a send: request validation,
// recipient resolution and a balance estimate. It builds job payloads
// priced with the configured unit costs.
type Service struct {
	resolver *recipient.Resolver
	ledger   *ledger.Ledger
	pricing  Pricing
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(resolver *recipient.Resolver, l *ledger.Ledger, pricing Pricing, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{resolver: resolver, ledger: l, pricing: pricing, logger: logger}
}

// Pricing returns the unit costs the service charges.
func (s *Service) Pricing() Pricing { return s.pricing }

// Estimate projects whether count messages of kind k are covered by the
// user's balance. It reserves nothing.
func (s *Service) Estimate(ctx context.Context, userID string, channel ledger.Channel, k recipient.Kind, count int) (ledger.Estimate, error) {
	if !k.Valid() {
		return ledger.Estimate{}, fmt.Errorf("%w: unknown message kind %q", herald.ErrValidation, k)
	}
	return s.ledger.Estimate(ctx, userID, channel, count, s.pricing.UnitCost(k))
}

// PrepareContact validates req, resolves the recipient and checks that
// one message is affordable.
func (s *Service) PrepareContact(ctx context.Context, req ContactRequest) (ContactPayload, error) {
	if err := validateCommon(req.UserID, req.Channel, req.Kind, req.Body); err != nil {
		return ContactPayload{}, err
	}
	rcpt, err := s.resolver.ResolveContact(ctx, req.UserID, req.Kind, req.Recipient)
	if err != nil {
		return ContactPayload{}, err
	}
	est, err := s.Estimate(ctx, req.UserID, req.Channel, req.Kind, 1)
	if err != nil {
		return ContactPayload{}, err
	}
	if !est.CanSend {
		return ContactPayload{}, fmt.Errorf("%w: need %d, have %d", herald.ErrInsufficientBalance, est.RequiredCost, est.CurrentBalance)
	}

	return ContactPayload{
		UserID:    req.UserID,
		Channel:   req.Channel,
		Kind:      req.Kind,
		Recipient: req.Recipient,
		Resolved:  &rcpt,
		Subject:   req.Subject,
		Body:      req.Body,
		UnitCost:  s.pricing.UnitCost(req.Kind),
	}, nil
}

// PrepareGroup resolves the group and splits its members into valid and
// invalid before enqueue.
func (s *Service) PrepareGroup(ctx context.Context, req GroupRequest) (BatchPayload, Plan, error) {
	if err := validateCommon(req.UserID, req.Channel, req.Kind, req.Body); err != nil {
		return BatchPayload{}, Plan{}, err
	}
	if req.GroupID == "" {
		return BatchPayload{}, Plan{}, fmt.Errorf("%w: group id is required", herald.ErrValidation)
	}
	res, err := s.resolver.ResolveGroup(ctx, req.UserID, req.Kind, req.GroupID)
	if err != nil {
		return BatchPayload{}, Plan{}, err
	}
	return s.batch(ctx, res, BatchPayload{
		UserID:  req.UserID,
		Channel: req.Channel,
		Kind:    req.Kind,
		GroupID: req.GroupID,
		Subject: req.Subject,
		Body:    req.Body,
	}, req.AllowPartial)
}

// PrepareBulk validates a destination list for a bulk send.
func (s *Service) PrepareBulk(ctx context.Context, req BulkRequest) (BatchPayload, Plan, error) {
	if err := validateCommon(req.UserID, req.Channel, req.Kind, req.Body); err != nil {
		return BatchPayload{}, Plan{}, err
	}
	res, err := s.resolver.ResolveList(req.Kind, req.Recipients)
	if err != nil {
		return BatchPayload{}, Plan{}, err
	}
	return s.batch(ctx, res, BatchPayload{
		UserID:  req.UserID,
		Channel: req.Channel,
		Kind:    req.Kind,
		Subject: req.Subject,
		Body:    req.Body,
	}, req.AllowPartial)
}

func (s *Service) batch(ctx context.Context, res recipient.GroupResolution, p BatchPayload, allowPartial bool) (BatchPayload, Plan, error) {
	plan := Plan{
		ContactCount:        res.Total,
		ValidContactCount:   len(res.Valid),
		InvalidContactCount: res.InvalidCount,
	}
	if len(res.Valid) == 0 {
		return BatchPayload{}, plan, fmt.Errorf("%w: no deliverable recipients (%d invalid)", herald.ErrValidation, res.InvalidCount)
	}

	est, err := s.Estimate(ctx, p.UserID, p.Channel, p.Kind, len(res.Valid))
	if err != nil {
		return BatchPayload{}, plan, err
	}
	plan.Estimate = est
	if !est.CanSend && !allowPartial {
		return BatchPayload{}, plan, fmt.Errorf("%w: need %d, have %d", herald.ErrInsufficientBalance, est.RequiredCost, est.CurrentBalance)
	}

	p.Recipients = res.Valid
	p.UnitCost = s.pricing.UnitCost(p.Kind)
	s.logger.Debug("batch planned",
		slog.String("user_id", p.UserID),
		slog.String("group_id", p.GroupID),
		slog.Int("valid", plan.ValidContactCount),
		slog.Int("invalid", plan.InvalidContactCount),
		slog.Int64("required_cost", est.RequiredCost),
	)
	return p, plan, nil
}
