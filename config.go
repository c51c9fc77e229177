package herald

import "time"

// Config holds process-wide engine settings. Per job type settings live
// in queue.Config.
type Config struct {
	// PollInterval is how often an idle lane polls for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a job without heartbeat is
	// considered abandoned and returned to waiting.
	StaleJobThreshold time.Duration

	// WaitPollInterval is how often the façade re-reads a job it is
	// blocked on, in case the job runs in another process.
	WaitPollInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      500 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: time.Minute,
		WaitPollInterval:  time.Second,
	}
}
