package send_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/herald"
	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/recipient"
	"github.com/xraph/herald/send"
	"github.com/xraph/herald/store/memory"
)

func newService(t *testing.T, funds int64) (*send.Service, *memory.Store) {
	t.Helper()
	s := memory.New()
	l := ledger.New(s, nil)
	if funds > 0 {
		if err := l.Credit(context.Background(), ledger.Debit{UserID: "u1", Channel: ledger.ChannelIndividual, Amount: funds}); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}
	svc := send.NewService(recipient.NewResolver(s, nil), l, send.Pricing{SMS: 10, Email: 2}, nil)
	return svc, s
}

// seedGroup creates a group of n contacts, the first bad of which carry
// a malformed phone number.
func seedGroup(t *testing.T, s *memory.Store, n, bad int) string {
	t.Helper()
	ctx := context.Background()
	g := &recipient.Group{UserID: "u1", Name: "customers"}
	if err := s.EnsureGroup(ctx, g); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	for i := 0; i < n; i++ {
		phone := fmt.Sprintf("+1555000%04d", i)
		if i < bad {
			phone = fmt.Sprintf("12%d", i)
		}
		c, err := s.UpsertContact(ctx, &recipient.Contact{UserID: "u1", Name: fmt.Sprintf("c%d", i), Phone: phone, Active: true})
		if err != nil {
			t.Fatalf("UpsertContact: %v", err)
		}
		if err := s.AddToGroup(ctx, g.ID, c.ID); err != nil {
			t.Fatalf("AddToGroup: %v", err)
		}
	}
	return g.ID
}

func TestService_PrepareGroupSplitsValidAndInvalid(t *testing.T) {
	svc, s := newService(t, 1000)
	groupID := seedGroup(t, s, 10, 2)

	p, plan, err := svc.PrepareGroup(context.Background(), send.GroupRequest{
		UserID:  "u1",
		Channel: ledger.ChannelIndividual,
		Kind:    recipient.KindSMS,
		GroupID: groupID,
		Body:    "sale",
	})
	if err != nil {
		t.Fatalf("PrepareGroup: %v", err)
	}
	if plan.ContactCount != 10 || plan.ValidContactCount != 8 || plan.InvalidContactCount != 2 {
		t.Errorf("plan = %+v", plan)
	}
	if len(p.Recipients) != 8 {
		t.Errorf("recipients = %d, want 8", len(p.Recipients))
	}
	if p.UnitCost != 10 || plan.Estimate.RequiredCost != 80 || !plan.Estimate.CanSend {
		t.Errorf("unit cost %d, estimate %+v", p.UnitCost, plan.Estimate)
	}
}

func TestService_PrepareGroupUnderfunded(t *testing.T) {
	svc, s := newService(t, 25)
	groupID := seedGroup(t, s, 5, 0)
	req := send.GroupRequest{
		UserID:  "u1",
		Channel: ledger.ChannelIndividual,
		Kind:    recipient.KindSMS,
		GroupID: groupID,
		Body:    "sale",
	}

	_, plan, err := svc.PrepareGroup(context.Background(), req)
	if !errors.Is(err, herald.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if plan.Estimate.Deficit != 25 {
		t.Errorf("deficit = %d, want 25", plan.Estimate.Deficit)
	}

	req.AllowPartial = true
	p, _, err := svc.PrepareGroup(context.Background(), req)
	if err != nil {
		t.Fatalf("PrepareGroup partial: %v", err)
	}
	if len(p.Recipients) != 5 {
		t.Errorf("recipients = %d, want 5", len(p.Recipients))
	}
}

func TestService_PrepareGroupErrors(t *testing.T) {
	svc, s := newService(t, 1000)
	allBad := seedGroup(t, s, 3, 3)

	tests := []struct {
		name string
		req  send.GroupRequest
		want error
	}{
		{"missing body", send.GroupRequest{UserID: "u1", Channel: "individual", Kind: "sms", GroupID: allBad}, herald.ErrValidation},
		{"bad channel", send.GroupRequest{UserID: "u1", Channel: "wallet", Kind: "sms", GroupID: allBad, Body: "x"}, herald.ErrValidation},
		{"missing group id", send.GroupRequest{UserID: "u1", Channel: "individual", Kind: "sms", Body: "x"}, herald.ErrValidation},
		{"unknown group", send.GroupRequest{UserID: "u1", Channel: "individual", Kind: "sms", GroupID: "grp_nope", Body: "x"}, herald.ErrGroupNotFound},
		{"nothing deliverable", send.GroupRequest{UserID: "u1", Channel: "individual", Kind: "sms", GroupID: allBad, Body: "x"}, herald.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.PrepareGroup(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_PrepareContact(t *testing.T) {
	svc, _ := newService(t, 10)

	p, err := svc.PrepareContact(context.Background(), send.ContactRequest{
		UserID:    "u1",
		Channel:   ledger.ChannelIndividual,
		Kind:      recipient.KindEmail,
		Recipient: recipient.Ref{Destination: " Ada@Example.COM "},
		Subject:   "hello",
		Body:      "hi",
	})
	if err != nil {
		t.Fatalf("PrepareContact: %v", err)
	}
	if p.Resolved == nil || p.Resolved.Destination != "ada@example.com" {
		t.Errorf("resolved = %+v", p.Resolved)
	}
	if p.UnitCost != 2 {
		t.Errorf("unit cost = %d, want 2", p.UnitCost)
	}

	_, err = svc.PrepareContact(context.Background(), send.ContactRequest{
		UserID:    "nobody",
		Channel:   ledger.ChannelIndividual,
		Kind:      recipient.KindSMS,
		Recipient: recipient.Ref{Destination: "+15550000001"},
		Body:      "hi",
	})
	if !errors.Is(err, herald.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestService_PrepareBulkKeepsOrder(t *testing.T) {
	svc, _ := newService(t, 1000)
	refs := []recipient.Ref{
		{Destination: "+15550000003"},
		{Destination: "bogus"},
		{Destination: "+15550000001"},
	}

	p, plan, err := svc.PrepareBulk(context.Background(), send.BulkRequest{
		UserID:     "u1",
		Channel:    ledger.ChannelIndividual,
		Kind:       recipient.KindSMS,
		Recipients: refs,
		Body:       "x",
	})
	if err != nil {
		t.Fatalf("PrepareBulk: %v", err)
	}
	if plan.InvalidContactCount != 1 || len(p.Recipients) != 2 {
		t.Fatalf("plan = %+v", plan)
	}
	if p.Recipients[0].Destination != "+15550000003" || p.Recipients[1].Destination != "+15550000001" {
		t.Errorf("order = %+v", p.Recipients)
	}
}

func TestService_RejectsOtherUsersRecipients(t *testing.T) {
	svc, s := newService(t, 1000)
	groupID := seedGroup(t, s, 3, 0)
	ctx := context.Background()

	_, _, err := svc.PrepareGroup(ctx, send.GroupRequest{
		UserID:  "intruder",
		Channel: ledger.ChannelIndividual,
		Kind:    recipient.KindSMS,
		GroupID: groupID,
		Body:    "sale",
	})
	if !errors.Is(err, herald.ErrGroupNotFound) {
		t.Errorf("PrepareGroup err = %v, want ErrGroupNotFound", err)
	}

	members, err := s.GetGroupRecipients(ctx, groupID, true)
	if err != nil {
		t.Fatalf("GetGroupRecipients: %v", err)
	}
	_, err = svc.PrepareContact(ctx, send.ContactRequest{
		UserID:    "intruder",
		Channel:   ledger.ChannelIndividual,
		Kind:      recipient.KindSMS,
		Recipient: recipient.Ref{ContactID: members[0].ID},
		Body:      "hi",
	})
	if !errors.Is(err, herald.ErrContactNotFound) {
		t.Errorf("PrepareContact err = %v, want ErrContactNotFound", err)
	}
}
