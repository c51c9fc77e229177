package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/job"
)

// Config defines per-type behaviour: the lane width, the dequeue rate
// limit, and the defaults applied to jobs of this type at enqueue time.
type Config struct {
	// Type is the job type this lane serves (must match job.Type).
	Type string

	// Concurrency is the number of jobs of this type that may run at once
	// in the local worker pool. Values below 1 are treated as 1.
	Concurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// started from this lane. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// Attempts is the default total attempt count for jobs of this type.
	Attempts int

	// Backoff is the default retry delay policy.
	Backoff backoff.Policy

	// Timeout is the default per-attempt deadline. Zero keeps the job
	// default; NoTimeout removes the deadline.
	Timeout time.Duration
}

// NoTimeout as a Config.Timeout gives jobs of the lane no attempt deadline.
const NoTimeout time.Duration = -1

// JobOptions returns the enqueue defaults described by c.
func (c Config) JobOptions() job.Options {
	opts := job.DefaultOptions()
	if c.Attempts > 0 {
		opts.MaxAttempts = c.Attempts
	}
	if !c.Backoff.IsZero() {
		opts.Backoff = c.Backoff
	}
	switch {
	case c.Timeout < 0:
		opts.Timeout = 0
	case c.Timeout > 0:
		opts.Timeout = c.Timeout
	}
	return opts
}

// Lanes returns c.Concurrency clamped to at least one.
func (c Config) Lanes() int {
	if c.Concurrency < 1 {
		return 1
	}
	return c.Concurrency
}

// laneState tracks runtime state for a single job type.
type laneState struct {
	config   Config
	limiter  *rate.Limiter
	active   int
	explicit bool
}

// Manager holds the per-type configuration and enforces rate limits.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	lanes map[string]*laneState
}

// NewManager creates a Manager with the given per-type configurations.
// Types not listed here run with a single lane and no rate limit.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		lanes: make(map[string]*laneState, len(configs)),
	}
	for _, cfg := range configs {
		ls := newLaneState(cfg)
		ls.explicit = true
		m.lanes[cfg.Type] = ls
	}
	return m
}

func newLaneState(cfg Config) *laneState {
	ls := &laneState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ls.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ls
}

func (m *Manager) lane(jobType string) *laneState {
	ls := m.lanes[jobType]
	if ls == nil {
		ls = newLaneState(Config{Type: jobType, Concurrency: 1})
		m.lanes[jobType] = ls
	}
	return ls
}

// Config returns the configuration for jobType, or a single-lane default.
func (m *Manager) Config(jobType string) Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls := m.lanes[jobType]; ls != nil {
		return ls.config
	}
	return Config{Type: jobType, Concurrency: 1}
}

// Types returns the configured job types in sorted order.
func (m *Manager) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.lanes))
	for t, ls := range m.lanes {
		if ls.explicit {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// Wait blocks until the lane's rate limiter admits one more job or ctx
// ends. Lanes without a rate limit return immediately.
func (m *Manager) Wait(ctx context.Context, jobType string) error {
	m.mu.Lock()
	limiter := m.lane(jobType).limiter
	m.mu.Unlock()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// Acquire marks one job of jobType as running. The caller MUST call
// Release when the job completes. It reports false when the lane is
// already at its concurrency limit.
func (m *Manager) Acquire(jobType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls := m.lane(jobType)
	if ls.active >= ls.config.Lanes() {
		return false
	}
	ls.active++
	return true
}

// Release decrements the active job count for the type.
func (m *Manager) Release(jobType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ls := m.lanes[jobType]; ls != nil && ls.active > 0 {
		ls.active--
	}
}

// SetConfig dynamically updates (or creates) a type configuration.
// Running lanes keep their width until the pool restarts.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.lanes[cfg.Type]
	ls := newLaneState(cfg)
	ls.explicit = true

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ls.active = existing.active
	}
	m.lanes[cfg.Type] = ls
}

// SetDefault installs cfg unless the type already has an explicit
// configuration. Handler packages use it to declare their defaults
// without overriding operator settings.
func (m *Manager) SetDefault(cfg Config) {
	m.mu.Lock()
	if ls := m.lanes[cfg.Type]; ls != nil && ls.explicit {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.SetConfig(cfg)
}

// ActiveCount returns the current number of running jobs for a type.
func (m *Manager) ActiveCount(jobType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls := m.lanes[jobType]; ls != nil {
		return ls.active
	}
	return 0
}
