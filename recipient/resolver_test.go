package recipient_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/herald"
	"github.com/xraph/herald/recipient"
	"github.com/xraph/herald/store/memory"
)

func seedGroup(t *testing.T, s *memory.Store, phones []string, inactive map[int]bool) string {
	t.Helper()
	ctx := context.Background()
	g := &recipient.Group{UserID: "user_1", Name: "customers"}
	if err := s.EnsureGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	for i, phone := range phones {
		c, err := s.UpsertContact(ctx, &recipient.Contact{
			UserID: "user_1",
			Name:   fmt.Sprintf("contact %d", i),
			Phone:  phone,
			Email:  fmt.Sprintf("c%d@example.com", i),
			Active: !inactive[i],
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.AddToGroup(ctx, g.ID, c.ID); err != nil {
			t.Fatal(err)
		}
	}
	return g.ID
}

func TestResolveGroup_FiltersMalformed(t *testing.T) {
	s := memory.New()
	phones := []string{
		"+15550000001", "+15550000002", "not-a-number", "+15550000004", "+15550000005",
		"+15550000006", "123", "+15550000008", "+15550000009", "+15550000010",
	}
	groupID := seedGroup(t, s, phones, nil)

	r := recipient.NewResolver(s, nil)
	res, err := r.ResolveGroup(context.Background(), "user_1", recipient.KindSMS, groupID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 10 {
		t.Fatalf("Total = %d, want 10", res.Total)
	}
	if len(res.Valid) != 8 {
		t.Fatalf("Valid = %d, want 8", len(res.Valid))
	}
	if res.InvalidCount != 2 {
		t.Fatalf("InvalidCount = %d, want 2", res.InvalidCount)
	}
	if res.Valid[0].Destination != "+15550000001" || res.Valid[7].Destination != "+15550000010" {
		t.Fatalf("order not preserved: %+v", res.Valid)
	}
}

func TestResolveGroup_InactiveCountsAsInvalid(t *testing.T) {
	s := memory.New()
	groupID := seedGroup(t, s, []string{"+15550000001", "+15550000002", "+15550000003"}, map[int]bool{1: true})

	r := recipient.NewResolver(s, nil)
	res, err := r.ResolveGroup(context.Background(), "user_1", recipient.KindSMS, groupID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || len(res.Valid) != 2 || res.InvalidCount != 1 {
		t.Fatalf("resolution = total %d valid %d invalid %d", res.Total, len(res.Valid), res.InvalidCount)
	}
}

func TestResolveGroup_EmailKind(t *testing.T) {
	s := memory.New()
	groupID := seedGroup(t, s, []string{"+15550000001", "+15550000002"}, nil)

	r := recipient.NewResolver(s, nil)
	res, err := r.ResolveGroup(context.Background(), "user_1", recipient.KindEmail, groupID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Valid) != 2 || res.Valid[0].Destination != "c0@example.com" {
		t.Fatalf("email resolution = %+v", res.Valid)
	}
}

func TestResolveGroup_NotFound(t *testing.T) {
	r := recipient.NewResolver(memory.New(), nil)
	_, err := r.ResolveGroup(context.Background(), "user_1", recipient.KindSMS, "grp_missing")
	if !errors.Is(err, herald.ErrGroupNotFound) {
		t.Fatalf("got %v, want ErrGroupNotFound", err)
	}
}

func TestResolveGroup_OtherUsersGroup(t *testing.T) {
	s := memory.New()
	groupID := seedGroup(t, s, []string{"+15550000001"}, nil)
	r := recipient.NewResolver(s, nil)

	_, err := r.ResolveGroup(context.Background(), "user_2", recipient.KindSMS, groupID)
	if !errors.Is(err, herald.ErrGroupNotFound) {
		t.Fatalf("err = %v, want ErrGroupNotFound", err)
	}
}

func TestResolveContact(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	good, _ := s.UpsertContact(ctx, &recipient.Contact{UserID: "user_1", Name: "Ada", Phone: "+1 (555) 000-0001", Active: true})
	off, _ := s.UpsertContact(ctx, &recipient.Contact{UserID: "user_1", Name: "Bob", Phone: "+15550000002", Active: false})
	bad, _ := s.UpsertContact(ctx, &recipient.Contact{UserID: "user_1", Name: "Cy", Email: "cy@example.com", Active: true})
	foreign, _ := s.UpsertContact(ctx, &recipient.Contact{UserID: "user_2", Name: "Di", Phone: "+15550000003", Active: true})

	r := recipient.NewResolver(s, nil)

	tests := []struct {
		name     string
		ref      recipient.Ref
		wantDest string
		wantErr  error
	}{
		{"stored contact", recipient.Ref{ContactID: good.ID}, "+15550000001", nil},
		{"raw destination", recipient.Ref{Destination: "+15550000099"}, "+15550000099", nil},
		{"unknown contact", recipient.Ref{ContactID: "ctc_missing"}, "", herald.ErrContactNotFound},
		{"another user's contact", recipient.Ref{ContactID: foreign.ID}, "", herald.ErrContactNotFound},
		{"inactive contact", recipient.Ref{ContactID: off.ID}, "", herald.ErrValidation},
		{"contact without phone", recipient.Ref{ContactID: bad.ID}, "", herald.ErrValidation},
		{"malformed raw", recipient.Ref{Destination: "12ab"}, "", herald.ErrValidation},
		{"empty ref", recipient.Ref{}, "", herald.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveContact(ctx, "user_1", recipient.KindSMS, tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Destination != tt.wantDest {
				t.Fatalf("destination = %q, want %q", got.Destination, tt.wantDest)
			}
		})
	}
}

func TestResolveList(t *testing.T) {
	r := recipient.NewResolver(memory.New(), nil)
	res, err := r.ResolveList(recipient.KindEmail, []recipient.Ref{
		{Destination: "A@Example.com"},
		{Destination: "broken@"},
		{Destination: "b@example.org"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || res.InvalidCount != 1 {
		t.Fatalf("resolution = %+v", res)
	}
	if res.Valid[0].Destination != "a@example.com" {
		t.Fatalf("email not normalized: %q", res.Valid[0].Destination)
	}
}
