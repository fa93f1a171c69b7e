// Package retry runs an operation with exponential backoff between attempts.
//
//	err := retry.Do(ctx, retry.Config{MaxRetries: 3, InitialDelay: 500 * time.Millisecond}, func(ctx context.Context) error {
//	    return client.Call(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config controls the retry behaviour.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// InitialDelay is the wait before the first retry; each later wait doubles.
	InitialDelay time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
	// ShouldRetry classifies errors. Nil retries every error.
	ShouldRetry func(err error) bool
	// Sleep replaces the real timer, mainly for tests.
	Sleep SleepFunc
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Result reports how many attempts were made.
type Result struct {
	Attempts int
}

// Sleep is the default SleepFunc backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent. The last error is returned unchanged.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) (Result, error) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	delays := newBackOff(cfg)

	var (
		lastErr error
		result  Result
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, errors.Join(lastErr, err)
		}

		result.Attempts++
		lastErr = fn(ctx)
		if lastErr == nil {
			return result, nil
		}
		if !shouldRetry(lastErr) || attempt == cfg.MaxRetries {
			return result, lastErr
		}

		delay := delays.NextBackOff()
		if cfg.OnRetry != nil {
			cfg.OnRetry(result.Attempts, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return result, errors.Join(lastErr, err)
		}
	}
	return result, lastErr
}

func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = cfg.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<62 - 1)
	}
	b.Reset()
	return b
}
