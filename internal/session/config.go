package session

import "time"

// BackoffConfig defines retry backoff behavior for port open attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool

	// MaxRetries bounds the retries after the first open attempt.
	// Zero or negative disables retrying.
	MaxRetries int
}

// RetryBudget returns how many retries an open may make. A backoff with
// no initial delay never retries regardless of MaxRetries.
func (c BackoffConfig) RetryBudget() int {
	if c.InitialDelay <= 0 || c.MaxRetries <= 0 {
		return 0
	}
	return c.MaxRetries
}

// Config defines session reliability defaults.
type Config struct {
	// PortName labels logs and metrics; it carries no I/O meaning here.
	PortName string

	// AckBuffer is the capacity of the decoded acknowledgment queue.
	// When full, the oldest undelivered ack is dropped and reported.
	AckBuffer int

	// ReadBuffer is the per-poll transport read size.
	ReadBuffer int

	Backoff BackoffConfig
}

// DefaultConfig returns session defaults sized for the device's ack
// cadence (a handful in flight, never hundreds).
func DefaultConfig() Config {
	return Config{
		PortName:   "unknown",
		AckBuffer:  64,
		ReadBuffer: 512,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
			MaxRetries:   3,
		},
	}
}
