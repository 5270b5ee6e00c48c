package channel

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds reconnection parameters
type RetryConfig struct {
	InitialDelay time.Duration // e.g., 1 second
	MaxDelay     time.Duration // e.g., 5 seconds
	Multiplier   float64       // e.g., 2.0 (exponential)
	MaxAttempts  int           // attempts per connect or reconnect cycle
	Jitter       bool          // Add randomization to prevent thundering herd
}

// DefaultRetryConfig mirrors the auction web client: 1s base, 5s cap, 5 attempts
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// ConnectionHealth tracks channel connection health
type ConnectionHealth struct {
	ConnectionID     string
	FailureCount     int
	ConsecutiveFails int
	RetryAttempt     int
	Reconnects       int
	LastFailureTime  time.Time
	LastConnectedAt  time.Time
}

// newBackOff builds the delay schedule for one cycle. retries bounds how many
// delays it hands out before returning backoff.Stop.
func (c RetryConfig) newBackOff(retries int) backoff.BackOff {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = c.InitialDelay
	strategy.MaxInterval = c.MaxDelay
	strategy.Multiplier = c.Multiplier
	strategy.MaxElapsedTime = 0 // bounded by attempts, not wall time
	strategy.RandomizationFactor = 0
	if c.Jitter {
		strategy.RandomizationFactor = 0.25 // ±25% jitter
	}
	strategy.Reset()

	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(strategy, uint64(retries))
}
