package llm

import (
	"math/rand/v2"
	"time"
)

// RetryConfig holds the retry and backoff policy for backend calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is multiplied by 2^attempt after transport and status errors.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// TimeoutDelay is the fixed pause after a timed-out call.
	TimeoutDelay time.Duration `yaml:"timeout_delay"`

	// InvalidDelay is the pause after a reply that failed validation.
	InvalidDelay time.Duration `yaml:"invalid_delay"`

	// Jitter is the +/- fraction applied to exponential backoff. 0 disables it.
	Jitter float64 `yaml:"jitter"`
}

// DefaultRetryConfig returns the retry defaults for diagram generation.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		BackoffBase:  time.Second,
		MaxBackoff:   30 * time.Second,
		TimeoutDelay: 5 * time.Second,
		InvalidDelay: time.Second,
		Jitter:       0.25,
	}
}

// Backoff returns the pause before the retry that follows a failed attempt.
// attempt is zero-based. Timeouts wait a fixed delay; every other error
// waits BackoffBase * 2^attempt.
func (c RetryConfig) Backoff(attempt int, err error) time.Duration {
	if IsTimeout(err) {
		return c.TimeoutDelay
	}

	backoff := c.BackoffBase
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if c.MaxBackoff > 0 && backoff >= c.MaxBackoff {
			backoff = c.MaxBackoff
			break
		}
	}
	if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}

	if c.Jitter <= 0 {
		return backoff
	}

	// Jitter spreads retries from concurrent callers.
	jitter := float64(backoff) * c.Jitter * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
