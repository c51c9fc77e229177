package redis_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/store/redis"
)

func newStore(t *testing.T) *redis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.New(client)
}

func newJob(jobType string, runAt time.Time) *job.Job {
	j := job.New(jobType, job.Options{
		MaxAttempts: 3,
		UserID:      "user_1",
		Backoff:     backoff.ExponentialPolicy(time.Second, time.Minute),
	})
	j.Payload = []byte(`{"to":"+15550000001"}`)
	j.RunAt = runAt
	return j
}

func TestLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestJobEnqueueAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j := newJob("send-to-contact", time.Now().Add(-time.Second))

	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, herald.ErrJobAlreadyExists) {
		t.Errorf("duplicate enqueue err = %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Type != j.Type || got.State != job.StateWaiting || got.UserID != "user_1" {
		t.Errorf("got %+v", got)
	}
	if got.Backoff != j.Backoff {
		t.Errorf("backoff = %+v, want %+v", got.Backoff, j.Backoff)
	}
	if string(got.Payload) != string(j.Payload) {
		t.Errorf("payload = %s", got.Payload)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("missing job err = %v", err)
	}
}

func TestDequeue_OrderTypesAndRunAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	second := newJob("send-to-contact", now.Add(-time.Second))
	first := newJob("bulk-send", now.Add(-2*time.Second))
	future := newJob("send-to-contact", now.Add(time.Hour))
	other := newJob("import-excel", now.Add(-3*time.Second))
	for _, j := range []*job.Job{second, first, future, other} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	worker := id.NewWorkerID()
	got, err := s.DequeueJobs(ctx, []string{"send-to-contact", "bulk-send"}, worker, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("claimed %d jobs, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}
	for _, j := range got {
		if j.State != job.StateActive || j.AttemptsMade != 1 || j.WorkerID != worker {
			t.Errorf("claimed job %+v", j)
		}
		if j.StartedAt == nil || j.HeartbeatAt == nil {
			t.Error("claim did not stamp timestamps")
		}
	}

	again, err := s.DequeueJobs(ctx, []string{"send-to-contact", "bulk-send"}, worker, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("claimed %d jobs twice", len(again))
	}
}

func TestDequeue_ConcurrentWorkersNeverShareAJob(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for range 40 {
		if err := s.EnqueueJob(ctx, newJob("send-to-contact", time.Now().Add(-time.Second))); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := id.NewWorkerID()
			for {
				jobs, err := s.DequeueJobs(ctx, []string{"send-to-contact"}, worker, 3)
				if err != nil {
					t.Errorf("DequeueJobs: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 40 {
		t.Errorf("claimed %d distinct jobs, want 40", len(seen))
	}
	for jID, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jID, n)
		}
	}
}

func TestUpdateJob_RetryAndFinish(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j := newJob("send-to-contact", time.Now().Add(-time.Second))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	claimed, err := s.DequeueJobs(ctx, []string{"send-to-contact"}, id.NewWorkerID(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("DequeueJobs: %v (%d)", err, len(claimed))
	}

	// Schedule a retry in the past so it is immediately eligible again.
	r := claimed[0]
	r.State = job.StateWaiting
	r.LastError = "smpp: throttled"
	r.RunAt = time.Now().Add(-time.Millisecond)
	if err := s.UpdateJob(ctx, r); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	n, err := s.CountJobs(ctx, job.CountOpts{Type: "send-to-contact", State: job.StateWaiting})
	if err != nil || n != 1 {
		t.Fatalf("waiting count = %d (%v), want 1", n, err)
	}

	claimed, err = s.DequeueJobs(ctx, []string{"send-to-contact"}, id.NewWorkerID(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("second DequeueJobs: %v (%d)", err, len(claimed))
	}
	if claimed[0].AttemptsMade != 2 || claimed[0].LastError != "smpp: throttled" {
		t.Errorf("retried job %+v", claimed[0])
	}

	done := claimed[0]
	finished := time.Now().UTC().Add(-2 * time.Hour)
	done.State = job.StateCompleted
	done.Result = []byte(`{"success":true}`)
	done.FinishedAt = &finished
	if err := s.UpdateJob(ctx, done); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	purged, err := s.PurgeJobs(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeJobs: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("purged job err = %v", err)
	}
}

func TestUpdateProgress_OnlyRises(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j := newJob("bulk-send", time.Now().Add(-time.Second))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.DequeueJobs(ctx, []string{"bulk-send"}, id.NewWorkerID(), 1); err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}

	for _, pct := range []int{40, 20, 60} {
		if err := s.UpdateProgress(ctx, j.ID, pct); err != nil {
			t.Fatalf("UpdateProgress(%d): %v", pct, err)
		}
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Progress != 60 {
		t.Errorf("progress = %d, want 60", got.Progress)
	}

	if err := s.UpdateProgress(ctx, id.NewJobID(), 10); !errors.Is(err, herald.ErrJobNotFound) {
		t.Errorf("missing job err = %v", err)
	}
}

func TestReapStaleJobs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j := newJob("send-to-group", time.Now().Add(-time.Second))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	claimed, err := s.DequeueJobs(ctx, []string{"send-to-group"}, id.NewWorkerID(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("DequeueJobs: %v", err)
	}
	old := time.Now().UTC().Add(-time.Minute)
	claimed[0].HeartbeatAt = &old
	if err := s.UpdateJob(ctx, claimed[0]); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	stale, err := s.ReapStaleJobs(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != j.ID {
		t.Errorf("stale = %v", stale)
	}
}

func TestDLQ(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-3 * time.Hour)

	var ids []id.DLQID
	for i, jobType := range []string{"send-to-contact", "bulk-send", "send-to-contact"} {
		e := &dlq.Entry{
			ID:           id.NewDLQID(),
			JobID:        id.NewJobID(),
			JobType:      jobType,
			UserID:       "user_1",
			Payload:      []byte(`{}`),
			Error:        "smtp: 554 rejected",
			AttemptsMade: 3,
			MaxAttempts:  3,
			FailedAt:     base.Add(time.Duration(i) * time.Hour),
			CreatedAt:    base,
		}
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
		ids = append(ids, e.ID)
	}

	all, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(all) != 3 || all[0].ID != ids[2] {
		t.Errorf("ListDLQ not newest first: %v", all)
	}

	contacts, err := s.ListDLQ(ctx, dlq.ListOpts{JobType: "send-to-contact", Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ filtered: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ID != ids[2] {
		t.Errorf("filtered = %v", contacts)
	}

	if err := s.ReplayDLQ(ctx, ids[0]); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	e, err := s.GetDLQ(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if e.ReplayedAt == nil || e.AttemptsMade != 3 {
		t.Errorf("entry = %+v", e)
	}
	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, herald.ErrDLQNotFound) {
		t.Errorf("missing entry err = %v", err)
	}

	purged, err := s.PurgeDLQ(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if purged != 2 {
		t.Errorf("purged = %d, want 2", purged)
	}
	n, err := s.CountDLQ(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountDLQ = %d (%v), want 1", n, err)
	}
}

func TestBalance_DebitCreditStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := ledger.Debit{UserID: "user_1", Channel: ledger.ChannelIndividual, Amount: 10}

	if err := s.DebitBalance(ctx, d); !errors.Is(err, herald.ErrInsufficientBalance) {
		t.Errorf("debit of missing balance err = %v", err)
	}
	if _, err := s.GetBalance(ctx, "user_1", ledger.ChannelIndividual); !errors.Is(err, herald.ErrBalanceNotFound) {
		t.Errorf("missing balance err = %v", err)
	}

	if err := s.CreditBalance(ctx, ledger.Debit{UserID: "user_1", Channel: ledger.ChannelIndividual, Amount: 25}); err != nil {
		t.Fatalf("CreditBalance: %v", err)
	}
	if err := s.DebitBalance(ctx, d); err != nil {
		t.Fatalf("DebitBalance: %v", err)
	}
	b, err := s.GetBalance(ctx, "user_1", ledger.ChannelIndividual)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Amount != 15 || b.Status != ledger.StatusActive {
		t.Errorf("balance = %+v", b)
	}

	if err := s.DebitBalance(ctx, ledger.Debit{UserID: "user_1", Channel: ledger.ChannelIndividual, Amount: 16}); !errors.Is(err, herald.ErrInsufficientBalance) {
		t.Errorf("overdraw err = %v", err)
	}

	if err := s.SetBalanceStatus(ctx, "user_1", ledger.ChannelIndividual, ledger.StatusSuspended); err != nil {
		t.Fatalf("SetBalanceStatus: %v", err)
	}
	if err := s.DebitBalance(ctx, d); !errors.Is(err, herald.ErrInsufficientBalance) {
		t.Errorf("suspended debit err = %v", err)
	}
	free := ledger.Debit{UserID: "user_1", Channel: ledger.ChannelIndividual}
	if err := s.DebitBalance(ctx, free); !errors.Is(err, herald.ErrInsufficientBalance) {
		t.Errorf("zero debit on suspended balance err = %v", err)
	}
	if err := s.DebitBalance(ctx, ledger.Debit{UserID: "nobody", Channel: ledger.ChannelCompany}); !errors.Is(err, herald.ErrInsufficientBalance) {
		t.Errorf("zero debit on missing balance err = %v", err)
	}
	if err := s.SetBalanceStatus(ctx, "nobody", ledger.ChannelCompany, ledger.StatusActive); !errors.Is(err, herald.ErrBalanceNotFound) {
		t.Errorf("missing status err = %v", err)
	}
}

func TestBalance_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.CreditBalance(ctx, ledger.Debit{UserID: "user_1", Channel: ledger.ChannelCompany, Amount: 30}); err != nil {
		t.Fatalf("CreditBalance: %v", err)
	}

	var (
		ok atomic.Int64
		wg sync.WaitGroup
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.DebitBalance(ctx, ledger.Debit{UserID: "user_1", Channel: ledger.ChannelCompany, Amount: 1})
			if err == nil {
				ok.Add(1)
			} else if !errors.Is(err, herald.ErrInsufficientBalance) {
				t.Errorf("DebitBalance: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 30 {
		t.Errorf("successful debits = %d, want 30", ok.Load())
	}
	b, err := s.GetBalance(ctx, "user_1", ledger.ChannelCompany)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Amount != 0 {
		t.Errorf("amount = %d, want 0", b.Amount)
	}
}
