package ai

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/zhouzirui/heartline/backend/pkg/retry"
)

// RetryPolicy decides which backend failures are retried and how long to wait.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	RetryableCodes    []int
	RetryServerErrors bool
	// CallTimeout bounds every single attempt. Hitting it is not retried.
	CallTimeout time.Duration
	Sleep       retry.SleepFunc
}

// DefaultRetryPolicy retries 401, 429 and 5xx up to three times starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         500 * time.Millisecond,
		RetryableCodes:    []int{401, 429},
		RetryServerErrors: true,
		CallTimeout:       60 * time.Second,
	}
}

// Retryable reports whether err is in the retryable status set.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	code := StatusOf(err)
	if code == 0 {
		return false
	}
	if p.RetryServerErrors && code >= 500 && code <= 599 {
		return true
	}
	return slices.Contains(p.RetryableCodes, code)
}

func (p RetryPolicy) config(onRetry func(int, time.Duration, error)) retry.Config {
	return retry.Config{
		MaxRetries:   p.MaxRetries,
		InitialDelay: p.BaseDelay,
		ShouldRetry:  p.Retryable,
		Sleep:        p.Sleep,
		OnRetry:      onRetry,
	}
}
