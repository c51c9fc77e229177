package send_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/message"
	"github.com/xraph/herald/recipient"
	"github.com/xraph/herald/send"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/transport"
	"github.com/xraph/herald/transport/transporttest"
)

type fixture struct {
	store    *memory.Store
	ledger   *ledger.Ledger
	fake     *transporttest.Fake
	handlers *send.Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	l := ledger.New(s, nil)
	fake := transporttest.New()
	h := send.NewHandlers(send.Deps{
		Ledger:    l,
		Resolver:  recipient.NewResolver(s, nil),
		Transport: &transport.Mux{SMS: fake, Email: fake},
		Messages:  s,
	}, nil)
	return &fixture{store: s, ledger: l, fake: fake, handlers: h}
}

func (f *fixture) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	err := f.ledger.Credit(context.Background(), ledger.Debit{UserID: userID, Channel: ledger.ChannelIndividual, Amount: amount})
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID, ledger.ChannelIndividual)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b.Amount
}

func phones(n int) []recipient.Recipient {
	out := make([]recipient.Recipient, n)
	for i := range out {
		out[i] = recipient.Recipient{Destination: fmt.Sprintf("+1555000%04d", i+1)}
	}
	return out
}

// progressRecorder captures every progress report made through ctx.
type progressRecorder struct {
	mu   sync.Mutex
	seen []int
}

func (p *progressRecorder) ctx() context.Context {
	return job.WithProgress(context.Background(), func(_ context.Context, pct int) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.seen = append(p.seen, pct)
		return nil
	})
}

func batchPayload(userID string, rcpts []recipient.Recipient, unitCost int64) send.BatchPayload {
	return send.BatchPayload{
		UserID:     userID,
		Channel:    ledger.ChannelIndividual,
		Kind:       recipient.KindSMS,
		GroupID:    "grp_1",
		Recipients: rcpts,
		Body:       "hello",
		UnitCost:   unitCost,
	}
}

func TestBatch_InsufficientBalanceMidway(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 25)

	res, err := f.handlers.Batch(send.TypeGroup)(context.Background(), batchPayload("u1", phones(5), 10))
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}

	if res.Processed != 2 || res.Failed != 3 {
		t.Errorf("processed/failed = %d/%d, want 2/3", res.Processed, res.Failed)
	}
	if res.TotalCost != 20 {
		t.Errorf("TotalCost = %d, want 20", res.TotalCost)
	}
	if len(res.Outcomes) != 5 {
		t.Fatalf("outcomes = %d, want 5", len(res.Outcomes))
	}
	for i, o := range res.Outcomes[2:] {
		if o.Success {
			t.Errorf("outcome %d succeeded", i+2)
		}
		if o.Error != herald.ErrInsufficientBalance.Error() {
			t.Errorf("outcome %d error = %q", i+2, o.Error)
		}
	}
	if got := f.balance(t, "u1"); got != 5 {
		t.Errorf("balance = %d, want 5", got)
	}
	if got := len(f.fake.Sent()); got != 2 {
		t.Errorf("transport sends = %d, want 2", got)
	}
}

func TestBatch_PreservesOrderAndInvariants(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 1000)
	rcpts := phones(6)
	f.fake.Script(rcpts[1].Destination, errors.New("smsc busy"))
	f.fake.Script(rcpts[4].Destination, errors.New("smsc busy"))

	res, err := f.handlers.Batch(send.TypeBulk)(context.Background(), batchPayload("u1", rcpts, 3))
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}

	if res.Processed+res.Failed != len(res.Outcomes) {
		t.Errorf("processed+failed = %d, outcomes = %d", res.Processed+res.Failed, len(res.Outcomes))
	}
	seen := map[int64]bool{}
	for i, o := range res.Outcomes {
		if o.Destination != rcpts[i].Destination {
			t.Errorf("outcome %d destination = %s, want %s", i, o.Destination, rcpts[i].Destination)
		}
		switch {
		case o.Success:
			if o.MessageID == 0 || o.Error != "" {
				t.Errorf("outcome %d: success with id=%d err=%q", i, o.MessageID, o.Error)
			}
			if seen[o.MessageID] {
				t.Errorf("outcome %d: duplicate message id %d", i, o.MessageID)
			}
			seen[o.MessageID] = true
		case o.Error == "":
			t.Errorf("outcome %d: failure without error", i)
		}
	}
	if res.Processed != 4 || res.TotalCost != 12 {
		t.Errorf("processed=%d cost=%d, want 4/12", res.Processed, res.TotalCost)
	}
	// Failed transport calls are refunded.
	if got := f.balance(t, "u1"); got != 1000-12 {
		t.Errorf("balance = %d, want %d", got, 1000-12)
	}
}

func TestBatch_ProgressMonotonicEndsAt100(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 100)
	rec := &progressRecorder{}

	if _, err := f.handlers.Batch(send.TypeGroup)(rec.ctx(), batchPayload("u1", phones(7), 1)); err != nil {
		t.Fatalf("Batch: %v", err)
	}

	if len(rec.seen) != 7 {
		t.Fatalf("progress reports = %v", rec.seen)
	}
	for i := 1; i < len(rec.seen); i++ {
		if rec.seen[i] < rec.seen[i-1] {
			t.Errorf("progress went backwards: %v", rec.seen)
		}
	}
	if last := rec.seen[len(rec.seen)-1]; last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestBatch_RecordsMessages(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 100)

	if _, err := f.handlers.Batch(send.TypeGroup)(context.Background(), batchPayload("u1", phones(3), 2)); err != nil {
		t.Fatalf("Batch: %v", err)
	}

	msgs, err := f.store.ListMessages(context.Background(), "u1", message.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	for _, m := range msgs {
		if m.Cost != 2 || m.Kind != "sms" || m.ProviderRef == "" {
			t.Errorf("message = %+v", m)
		}
	}
}

func TestBatch_InvalidPayloadIsPermanent(t *testing.T) {
	f := newFixture(t)
	p := batchPayload("", phones(1), 1)

	_, err := f.handlers.Batch(send.TypeGroup)(context.Background(), p)
	if !job.IsPermanent(err) || !errors.Is(err, herald.ErrValidation) {
		t.Errorf("err = %v, want permanent validation error", err)
	}
}

func TestContact_Success(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 10)

	res, err := f.handlers.Contact(context.Background(), send.ContactPayload{
		UserID:    "u1",
		Channel:   ledger.ChannelIndividual,
		Kind:      recipient.KindSMS,
		Recipient: recipient.Ref{Destination: "+1 (555) 000-0001"},
		Body:      "hi",
		UnitCost:  4,
	})
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if !res.Success || res.MessageID == 0 || res.Cost != 4 {
		t.Errorf("result = %+v", res)
	}
	if res.Destination != "+15550000001" {
		t.Errorf("destination = %q", res.Destination)
	}
	if got := f.balance(t, "u1"); got != 6 {
		t.Errorf("balance = %d, want 6", got)
	}
}

func TestContact_Errors(t *testing.T) {
	tests := []struct {
		name      string
		funds     int64
		ref       recipient.Ref
		failSend  bool
		want      error
		permanent bool
	}{
		{"insufficient balance", 1, recipient.Ref{Destination: "+15550000001"}, false, herald.ErrInsufficientBalance, true},
		{"unknown contact", 10, recipient.Ref{ContactID: "ctc_missing"}, false, herald.ErrContactNotFound, true},
		{"malformed destination", 10, recipient.Ref{Destination: "12"}, false, herald.ErrValidation, true},
		{"transport failure", 10, recipient.Ref{Destination: "+15550000001"}, true, herald.ErrTransport, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fund(t, "u1", tt.funds)
			if tt.failSend {
				f.fake.FailAll(errors.New("bind lost"))
			}

			_, err := f.handlers.Contact(context.Background(), send.ContactPayload{
				UserID:    "u1",
				Channel:   ledger.ChannelIndividual,
				Kind:      recipient.KindSMS,
				Recipient: tt.ref,
				Body:      "hi",
				UnitCost:  5,
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if job.IsPermanent(err) != tt.permanent {
				t.Errorf("permanent = %v, want %v", job.IsPermanent(err), tt.permanent)
			}
			// Nothing is spent on a failed send.
			if got := f.balance(t, "u1"); got != tt.funds {
				t.Errorf("balance = %d, want %d", got, tt.funds)
			}
		})
	}
}

// flakyLog wraps the memory log and fails the operations switched on.
type flakyLog struct {
	*memory.Store
	failRecord bool
	failMark   bool
}

func (l *flakyLog) RecordMessage(ctx context.Context, m *message.Message) (int64, error) {
	if l.failRecord {
		return 0, errors.New("message log unavailable")
	}
	return l.Store.RecordMessage(ctx, m)
}

func (l *flakyLog) MarkMessage(ctx context.Context, msgID int64, status message.Status, ref string) error {
	if l.failMark {
		return errors.New("message log unavailable")
	}
	return l.Store.MarkMessage(ctx, msgID, status, ref)
}

func newFixtureWithLog(t *testing.T, log *flakyLog) *fixture {
	t.Helper()
	f := newFixture(t)
	log.Store = f.store
	f.handlers = send.NewHandlers(send.Deps{
		Ledger:    f.ledger,
		Resolver:  recipient.NewResolver(f.store, nil),
		Transport: &transport.Mux{SMS: f.fake, Email: f.fake},
		Messages:  log,
	}, nil)
	return f
}

func TestBatch_UnrecordableMessageIsNotSent(t *testing.T) {
	f := newFixtureWithLog(t, &flakyLog{failRecord: true})
	f.fund(t, "u1", 30)

	res, err := f.handlers.Batch(send.TypeBulk)(context.Background(), batchPayload("u1", phones(3), 10))
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if res.Processed != 0 || res.Failed != 3 {
		t.Fatalf("processed/failed = %d/%d, want 0/3", res.Processed, res.Failed)
	}
	for i, o := range res.Outcomes {
		if o.Success || o.MessageID != 0 || o.Error == "" {
			t.Errorf("outcome %d = %+v, want failed without id", i, o)
		}
	}
	if n := len(f.fake.Sent()); n != 0 {
		t.Errorf("transport sends = %d, want 0", n)
	}
	if got := f.balance(t, "u1"); got != 30 {
		t.Errorf("balance = %d, want 30 (refunded)", got)
	}
}

func TestContact_UnrecordableMessageRetries(t *testing.T) {
	f := newFixtureWithLog(t, &flakyLog{failRecord: true})
	f.fund(t, "u1", 10)

	_, err := f.handlers.Contact(context.Background(), send.ContactPayload{
		UserID:    "u1",
		Channel:   ledger.ChannelIndividual,
		Kind:      recipient.KindSMS,
		Recipient: recipient.Ref{Destination: "+15550000001"},
		Body:      "hi",
		UnitCost:  4,
	})
	if err == nil || job.IsPermanent(err) {
		t.Fatalf("err = %v, want retryable error", err)
	}
	if got := f.balance(t, "u1"); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestBatch_SuccessAlwaysCarriesMessageID(t *testing.T) {
	// Marking the row fails after the provider accepted the message.
	f := newFixtureWithLog(t, &flakyLog{failMark: true})
	f.fund(t, "u1", 30)

	res, err := f.handlers.Batch(send.TypeBulk)(context.Background(), batchPayload("u1", phones(3), 10))
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if res.Processed != 3 {
		t.Fatalf("processed = %d, want 3", res.Processed)
	}
	seen := map[int64]bool{}
	for i, o := range res.Outcomes {
		if o.MessageID <= 0 || seen[o.MessageID] {
			t.Errorf("outcome %d message id = %d", i, o.MessageID)
		}
		seen[o.MessageID] = true
	}
}

func TestBatch_FailedSendMarksMessageFailed(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 30)
	rcpts := phones(2)
	f.fake.Script(rcpts[1].Destination, errors.New("rejected"))

	res, err := f.handlers.Batch(send.TypeBulk)(context.Background(), batchPayload("u1", rcpts, 10))
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if res.Processed != 1 || res.Failed != 1 {
		t.Fatalf("processed/failed = %d/%d", res.Processed, res.Failed)
	}

	msgs, _ := f.store.ListMessages(context.Background(), "u1", message.ListOpts{})
	status := map[string]message.Status{}
	for _, m := range msgs {
		status[m.Destination] = m.Status
	}
	if status[rcpts[0].Destination] != message.StatusSent || status[rcpts[1].Destination] != message.StatusFailed {
		t.Errorf("statuses = %v", status)
	}
	if got := f.balance(t, "u1"); got != 20 {
		t.Errorf("balance = %d, want 20", got)
	}
}

func TestBatch_AttemptDeadlineDoesNotCutBatch(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 30)

	ctx, cancel := context.WithTimeout(job.WithAbort(context.Background()), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	res, err := f.handlers.Batch(send.TypeGroup)(ctx, batchPayload("u1", phones(3), 10))
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if res.Processed != 3 || res.Failed != 0 {
		t.Errorf("processed/failed = %d/%d, want 3/0", res.Processed, res.Failed)
	}
}

func TestBatch_AbortStopsBetweenRecipients(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 50)

	abort, cancelAbort := context.WithCancel(context.Background())
	defer cancelAbort()
	// Abort after the first recipient and wait for the handler to see it.
	ctx := job.WithProgress(job.WithAbort(abort), func(ctx context.Context, _ int) error {
		cancelAbort()
		<-ctx.Done()
		return nil
	})

	res, err := f.handlers.Batch(send.TypeGroup)(ctx, batchPayload("u1", phones(4), 10))
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if res.Processed != 1 || res.Failed != 3 || len(res.Outcomes) != 4 {
		t.Fatalf("processed/failed = %d/%d", res.Processed, res.Failed)
	}
	for _, o := range res.Outcomes[1:] {
		if o.Error != context.Canceled.Error() {
			t.Errorf("outcome error = %q, want cancellation", o.Error)
		}
	}
	if got := f.balance(t, "u1"); got != 40 {
		t.Errorf("balance = %d, want 40", got)
	}
}

func TestContact_TransportCallIsBounded(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 10)
	f.fake.WithDelay(time.Second)
	h := send.NewHandlers(send.Deps{
		Ledger:      f.ledger,
		Resolver:    recipient.NewResolver(f.store, nil),
		Transport:   &transport.Mux{SMS: f.fake, Email: f.fake},
		Messages:    f.store,
		SendTimeout: 20 * time.Millisecond,
	}, nil)

	start := time.Now()
	_, err := h.Contact(context.Background(), send.ContactPayload{
		UserID:    "u1",
		Channel:   ledger.ChannelIndividual,
		Kind:      recipient.KindSMS,
		Recipient: recipient.Ref{Destination: "+15550000001"},
		Body:      "hi",
		UnitCost:  4,
	})
	if !errors.Is(err, context.DeadlineExceeded) || job.IsPermanent(err) {
		t.Fatalf("err = %v, want retryable deadline error", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("send took %v, want bounded by the send timeout", elapsed)
	}
	if got := f.balance(t, "u1"); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}
