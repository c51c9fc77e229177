package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/engine"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
	"github.com/xraph/herald/store/memory"
)

// ──────────────────────────────────────────────────
// Test payloads
// ──────────────────────────────────────────────────

type smsPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func fastConfig() herald.Config {
	cfg := herald.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	all := append([]engine.Option{engine.WithStore(s), engine.WithConfig(fastConfig())}, opts...)
	eng, err := engine.New(all...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng, s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func waitState(t *testing.T, s *memory.Store, jobID id.JobID, want job.State) *job.Job {
	t.Helper()
	var got *job.Job
	waitFor(t, "job state "+string(want), func() bool {
		j, err := s.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		got = j
		return j.State == want
	})
	return got
}

// ──────────────────────────────────────────────────
// End-to-end: Register → Enqueue → Process
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterEnqueueProcess(t *testing.T) {
	eng, s := newEngine(t)

	var gotPayload atomic.Value
	engine.Register(eng, job.NewDefinition("send-sms", func(_ context.Context, p smsPayload) (string, error) {
		gotPayload.Store(p)
		return "delivered", nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "send-sms", smsPayload{
		To:   "+15550000001",
		Body: "Hello from Herald",
	}, job.WithUser("user_123"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.Type != "send-sms" {
		t.Errorf("job.Type = %q, want %q", j.Type, "send-sms")
	}
	if j.State != job.StateWaiting {
		t.Errorf("job.State = %q, want %q", j.State, job.StateWaiting)
	}
	if j.UserID != "user_123" {
		t.Errorf("job.UserID = %q, want user_123", j.UserID)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := waitState(t, s, j.ID, job.StateCompleted)
	if string(got.Result) != `"delivered"` {
		t.Errorf("result = %s", got.Result)
	}
	p, _ := gotPayload.Load().(smsPayload)
	if p.To != "+15550000001" || p.Body != "Hello from Herald" {
		t.Errorf("payload = %+v", p)
	}
}

// ──────────────────────────────────────────────────
// Extension lifecycle events
// ──────────────────────────────────────────────────

type lifecycleTracker struct {
	enqueued      atomic.Int32
	started       atomic.Bool
	completed     atomic.Bool
	failed        atomic.Bool
	shutdown      atomic.Bool
	retryingCount atomic.Int32
	dlq           atomic.Bool
}

func (e *lifecycleTracker) Name() string { return "lifecycle-tracker" }

func (e *lifecycleTracker) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	e.enqueued.Add(1)
	return nil
}

func (e *lifecycleTracker) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failed.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	e.retryingCount.Add(1)
	return nil
}

func (e *lifecycleTracker) OnJobDLQ(_ context.Context, _ *job.Job, _ error) error {
	e.dlq.Store(true)
	return nil
}

func (e *lifecycleTracker) OnShutdown(_ context.Context) error {
	e.shutdown.Store(true)
	return nil
}

func TestEngine_ExtensionLifecycleEvents(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, s := newEngine(t, engine.WithExtension(tracker))

	engine.Register(eng, job.NewDefinition("tracked-job", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "tracked-job", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if tracker.enqueued.Load() != 1 {
		t.Error("expected OnJobEnqueued to fire on enqueue")
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitState(t, s, j.ID, job.StateCompleted)
	waitFor(t, "OnJobCompleted", tracker.completed.Load)

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !tracker.shutdown.Load() {
		t.Error("expected OnShutdown to fire on stop")
	}
}

// ──────────────────────────────────────────────────
// Retry, DLQ and replay
// ──────────────────────────────────────────────────

func TestEngine_RetryThenSucceed(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, s := newEngine(t, engine.WithExtension(tracker))

	var calls atomic.Int32
	engine.Register(eng, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) (int32, error) {
		n := calls.Add(1)
		if n < 3 {
			return 0, errors.New("gateway busy")
		}
		return n, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "flaky", struct{}{},
		job.WithAttempts(3),
		job.WithBackoff(backoff.FixedPolicy(10*time.Millisecond)),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := waitState(t, s, j.ID, job.StateCompleted)
	if got.AttemptsMade != 3 || string(got.Result) != "3" {
		t.Fatalf("attempts=%d result=%s, want 3 and third result", got.AttemptsMade, got.Result)
	}
	if tracker.retryingCount.Load() != 2 {
		t.Fatalf("retrying events = %d, want 2", tracker.retryingCount.Load())
	}
}

func TestEngine_ExhaustRetriesToDLQAndReplay(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, s := newEngine(t, engine.WithExtension(tracker))

	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int32
	engine.Register(eng, job.NewDefinition("fragile", func(_ context.Context, _ struct{}) (string, error) {
		calls.Add(1)
		if fail.Load() {
			return "", errors.New("smtp relay refused")
		}
		return "ok", nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "fragile", struct{}{},
		job.WithAttempts(2),
		job.WithBackoff(backoff.FixedPolicy(10*time.Millisecond)),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	failed := waitState(t, s, j.ID, job.StateFailed)
	if failed.LastError != "smtp relay refused" {
		t.Fatalf("LastError = %q", failed.LastError)
	}
	waitFor(t, "OnJobDLQ", tracker.dlq.Load)
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}

	entries, err := eng.DLQService().List(context.Background(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].JobID.String() != j.ID.String() {
		t.Fatalf("dlq entries = %+v", entries)
	}

	fail.Store(false)
	replayed, err := eng.Replay(context.Background(), entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID.String() == j.ID.String() {
		t.Fatal("replay should create a new job")
	}
	waitState(t, s, replayed.ID, job.StateCompleted)

	entry, _ := s.GetDLQ(context.Background(), entries[0].ID)
	if entry.ReplayedAt == nil {
		t.Fatal("entry should be marked replayed")
	}
}

func TestEngine_PermanentErrorSkipsRetries(t *testing.T) {
	eng, s := newEngine(t)

	var calls atomic.Int32
	engine.Register(eng, job.NewDefinition("no-funds", func(_ context.Context, _ struct{}) (struct{}, error) {
		calls.Add(1)
		return struct{}{}, job.Permanent(herald.ErrInsufficientBalance)
	}))

	j, err := engine.Enqueue(context.Background(), eng, "no-funds", struct{}{}, job.WithAttempts(5))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := waitState(t, s, j.ID, job.StateFailed)
	if got.LastError != herald.ErrInsufficientBalance.Error() {
		t.Fatalf("LastError = %q", got.LastError)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

// ──────────────────────────────────────────────────
// Enqueue options and queue defaults
// ──────────────────────────────────────────────────

func TestEngine_EnqueueUsesQueueDefaults(t *testing.T) {
	eng, _ := newEngine(t, engine.WithQueueConfig(queue.Config{
		Type:     "send-to-contact",
		Attempts: 3,
		Backoff:  backoff.ExponentialPolicy(time.Second, time.Minute),
		Timeout:  30 * time.Second,
	}))
	engine.Register(eng, job.NewDefinition("send-to-contact", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "send-to-contact", struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	if j.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", j.MaxAttempts)
	}
	if j.Backoff.Kind != backoff.KindExponential {
		t.Errorf("Backoff.Kind = %q", j.Backoff.Kind)
	}
	if j.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", j.Timeout)
	}

	runAt := time.Now().UTC().Add(time.Hour)
	j, err = engine.Enqueue(context.Background(), eng, "send-to-contact", struct{}{},
		job.WithAttempts(1),
		job.WithRunAt(runAt),
	)
	if err != nil {
		t.Fatal(err)
	}
	if j.MaxAttempts != 1 {
		t.Errorf("override MaxAttempts = %d, want 1", j.MaxAttempts)
	}
	if !j.RunAt.Equal(runAt) {
		t.Errorf("RunAt = %v, want %v", j.RunAt, runAt)
	}
}

func TestEngine_EnqueueUnknownType(t *testing.T) {
	eng, _ := newEngine(t)
	_, err := engine.Enqueue(context.Background(), eng, "nope", struct{}{})
	if !errors.Is(err, herald.ErrNoHandler) {
		t.Fatalf("got %v, want ErrNoHandler", err)
	}
}

// failingStore rejects every enqueue to simulate an unreachable backend.
type failingStore struct {
	*memory.Store
}

func (failingStore) EnqueueJob(context.Context, *job.Job) error {
	return errors.New("connection refused")
}

func TestEngine_EnqueueBackendFailure(t *testing.T) {
	eng, err := engine.New(engine.WithStore(failingStore{memory.New()}))
	if err != nil {
		t.Fatal(err)
	}
	engine.Register(eng, job.NewDefinition("send-to-contact", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	}))

	_, err = engine.Enqueue(context.Background(), eng, "send-to-contact", struct{}{})
	if !errors.Is(err, herald.ErrQueueBackend) {
		t.Fatalf("got %v, want ErrQueueBackend", err)
	}
}

func TestEngine_NewNoStore(t *testing.T) {
	if _, err := engine.New(); !errors.Is(err, herald.ErrNoStore) {
		t.Fatalf("got %v, want ErrNoStore", err)
	}
	if _, err := engine.New(engine.WithJobStore(memory.New())); !errors.Is(err, herald.ErrNoStore) {
		t.Fatalf("missing dlq store: got %v, want ErrNoStore", err)
	}
}

func TestEngine_GracefulShutdown(t *testing.T) {
	eng, s := newEngine(t)

	release := make(chan struct{})
	var started atomic.Bool
	engine.Register(eng, job.NewDefinition("long", func(_ context.Context, _ struct{}) (struct{}, error) {
		started.Store(true)
		<-release
		return struct{}{}, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "long", struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "job start", started.Load)

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		stopped <- eng.Stop(ctx)
	}()

	// Stop waits for the running job.
	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.State != job.StateCompleted {
		t.Fatalf("state after stop = %q, want completed", got.State)
	}
}
