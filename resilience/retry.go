package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig controls Retry and its variants.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// Jitter spreads each backoff by up to 10% in either direction.
	Jitter bool

	// RetryableErrors decides whether an error is worth another attempt.
	// Nil means DefaultRetryableErrors.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a default configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries everything except cancellation, deadlines
// and an open circuit.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrCircuitBreakerOpen),
		errors.Is(err, ErrCircuitBreakerTimeout):
		return false
	}
	return true
}

// RetryStats describes what a call to RetryWithStats did.
type RetryStats struct {
	TotalAttempts   int
	TotalRetries    int
	SuccessfulCalls int
	TotalBackoff    time.Duration
	AverageBackoff  time.Duration
}

// Retry calls fn until it succeeds, returns an error that is not retryable,
// runs out of retries, or ctx is done.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryWithStats is Retry that also reports attempts and time spent backing off.
func RetryWithStats(ctx context.Context, config RetryConfig, fn func() error) (RetryStats, error) {
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}

	var stats RetryStats
	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt-1, config)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				stats.finish()
				return stats, errors.CombineErrors(ctx.Err(), lastErr)
			case <-timer.C:
			}
			stats.TotalRetries++
			stats.TotalBackoff += backoff
		}

		stats.TotalAttempts++
		lastErr = fn()
		if lastErr == nil {
			stats.SuccessfulCalls++
			stats.finish()
			return stats, nil
		}
		if !retryable(lastErr) {
			break
		}
	}
	stats.finish()
	return stats, lastErr
}

func (s *RetryStats) finish() {
	if s.TotalRetries > 0 {
		s.AverageBackoff = s.TotalBackoff / time.Duration(s.TotalRetries)
	}
}

// ExponentialBackoff retries fn up to maxRetries times, doubling the delay
// from initialBackoff each time.
func ExponentialBackoff(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn func() error) error {
	return Retry(ctx, RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    initialBackoff,
		MaxBackoff:        initialBackoff << maxRetries,
		BackoffMultiplier: 2.0,
		RetryableErrors:   DefaultRetryableErrors,
	}, fn)
}

// RetryWithCircuitBreaker runs every attempt through cb. An open circuit ends
// the retries.
func RetryWithCircuitBreaker(ctx context.Context, config RetryConfig, cb *CircuitBreaker, fn func(ctx context.Context) error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, fn)
	})
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt))
	if config.Jitter {
		backoff *= 0.9 + rand.Float64()*0.2
	}
	if limit := float64(config.MaxBackoff); config.MaxBackoff > 0 && backoff > limit {
		backoff = limit
	}
	return time.Duration(backoff)
}
