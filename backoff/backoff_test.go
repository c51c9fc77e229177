package backoff_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/herald/backoff"
)

func TestFixed_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewFixed(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(200); got != 10*time.Second {
		t.Errorf("Delay(200) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponential_ZeroAttemptTreatedAsFirst(t *testing.T) {
	e := backoff.NewExponential(time.Second, 0)
	if got := e.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, time.Second)
	}
}

func TestPolicy_Strategy(t *testing.T) {
	fixed := backoff.FixedPolicy(3 * time.Second).Strategy()
	if got := fixed.Delay(4); got != 3*time.Second {
		t.Errorf("fixed Delay(4) = %v, want 3s", got)
	}

	exp := backoff.ExponentialPolicy(100*time.Millisecond, 0).Strategy()
	if got := exp.Delay(3); got != 400*time.Millisecond {
		t.Errorf("exponential Delay(3) = %v, want 400ms", got)
	}

	var zero backoff.Policy
	if !zero.IsZero() {
		t.Error("expected zero policy to report IsZero")
	}
	if got := zero.Strategy().Delay(1); got != time.Second {
		t.Errorf("default Delay(1) = %v, want 1s", got)
	}
}

func TestPolicy_JSONKeepsKind(t *testing.T) {
	p := backoff.ExponentialPolicy(2*time.Second, time.Minute)
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got backoff.Policy
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != p {
		t.Errorf("policy = %+v, want %+v", got, p)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := backoff.FixedPolicy(time.Second).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (backoff.Policy{Kind: "linear"}).Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
	if err := backoff.FixedPolicy(-time.Second).Validate(); err == nil {
		t.Error("expected error for negative delay")
	}
}
