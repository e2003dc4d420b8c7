package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ecodeclub/ekit/retry"
)

// Backoff yields the delay before each retry; ok=false means retries are exhausted
type Backoff interface {
	Next() (time.Duration, bool)
}

// BackoffFactory creates a fresh Backoff for every message
type BackoffFactory func() (Backoff, error)

// Backoff strategy names accepted by NewBackoffFactory
const (
	BackoffTable       = "table"
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

// NewBackoffFactory builds the configured retry schedule
func NewBackoffFactory(strategy string, delays []time.Duration, initial, maxDelay time.Duration, maxRetries int) (BackoffFactory, error) {
	if maxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", maxRetries)
	}
	if maxRetries == 0 {
		// ekit treats a zero limit as unlimited
		return func() (Backoff, error) { return noRetry{}, nil }, nil
	}

	switch strategy {
	case BackoffTable, "":
		if len(delays) == 0 {
			return nil, fmt.Errorf("table backoff needs at least one delay")
		}
		return TableBackoff(delays, maxRetries), nil
	case BackoffExponential:
		if _, err := retry.NewExponentialBackoffRetryStrategy(initial, maxDelay, int32(maxRetries)); err != nil {
			return nil, fmt.Errorf("invalid exponential backoff: %w", err)
		}
		return func() (Backoff, error) {
			return retry.NewExponentialBackoffRetryStrategy(initial, maxDelay, int32(maxRetries))
		}, nil
	case BackoffFixed:
		if _, err := retry.NewFixedIntervalRetryStrategy(initial, int32(maxRetries)); err != nil {
			return nil, fmt.Errorf("invalid fixed backoff: %w", err)
		}
		return func() (Backoff, error) {
			return retry.NewFixedIntervalRetryStrategy(initial, int32(maxRetries))
		}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", strategy)
	}
}

// TableBackoff retries up to maxRetries times, waiting delays[i] before retry i.
// The last delay repeats when there are more retries than delays.
func TableBackoff(delays []time.Duration, maxRetries int) BackoffFactory {
	table := append([]time.Duration(nil), delays...)
	return func() (Backoff, error) {
		return &tableBackoff{delays: table, maxRetries: maxRetries}, nil
	}
}

type tableBackoff struct {
	delays     []time.Duration
	maxRetries int
	retries    int
}

func (b *tableBackoff) Next() (time.Duration, bool) {
	if b.retries >= b.maxRetries || len(b.delays) == 0 {
		return 0, false
	}
	d := b.delays[min(b.retries, len(b.delays)-1)]
	b.retries++
	return d, true
}

type noRetry struct{}

func (noRetry) Next() (time.Duration, bool) { return 0, false }

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
