package common

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryOptions configures WithRetry. Zero values take defaults.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// ShouldRetry decides whether an error is worth another attempt.
	// Defaults to transient network and rate limit failures.
	ShouldRetry func(error) bool
}

func defaultShouldRetry(err error) bool {
	code := Classify(err)
	return code == CodeTransientNetwork || code == CodeRateLimited
}

// WithRetry executes an operation with exponential backoff.
func WithRetry(ctx context.Context, operation func() error, opts RetryOptions, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 200 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = defaultShouldRetry
	}

	delay := opts.InitialDelay
	for attempt := 1; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !opts.ShouldRetry(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		// rate limits wait out the longest delay
		if Classify(err) == CodeRateLimited {
			delay = opts.MaxDelay
		}

		logger.Warn("retry.attempt_failed",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * opts.Multiplier)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
}
