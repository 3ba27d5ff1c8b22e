package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mathrand "math/rand"
	"time"

	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

// RetryConfig controls Retry. MaxRetries is the number of attempts; zero means
// keep trying until the context is cancelled.
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	JitterFactor    float64 // fraction of the delay added as random jitter
	LogRetryAttempt bool
	ShouldRetry     func(error, int) bool // (error, attempt number)
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      5,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		JitterFactor:    0.2,
		LogRetryAttempt: true,
	}
}

// ReconnectRetryConfig never gives up; used for long-lived connections that
// must be re-established until shutdown.
func ReconnectRetryConfig() *RetryConfig {
	c := DefaultRetryConfig()
	c.MaxRetries = 0
	c.MaxDelay = time.Minute
	return c
}

func (c *RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("MaxRetries must be >= 0")
	}
	if c.InitialDelay <= 0 {
		return errors.New("InitialDelay must be positive")
	}
	if c.MaxDelay < c.InitialDelay {
		return errors.New("MaxDelay must be >= InitialDelay")
	}
	if c.BackoffFactor < 1.0 {
		return errors.New("BackoffFactor must be >= 1.0")
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1.0 {
		return errors.New("JitterFactor must be between 0.0 and 1.0")
	}
	return nil
}

// SecureFloat64 returns a random float64 in [0.0,1.0)
func SecureFloat64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return mathrand.Float64()
	}
	return float64(binary.BigEndian.Uint64(b[:])) / (1 << 64)
}

func CalculateDelayWithJitter(baseDelay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return baseDelay
	}
	return baseDelay + time.Duration(jitterFactor*float64(baseDelay)*SecureFloat64())
}

func CalculateNextDelay(currentDelay time.Duration, backoffFactor float64, maxDelay time.Duration) time.Duration {
	next := time.Duration(float64(currentDelay) * backoffFactor)
	if next > maxDelay {
		return maxDelay
	}
	return next
}

// Retry runs operation with exponential backoff until it succeeds, the attempt
// budget is spent, ShouldRetry rejects the error, or ctx is done.
func Retry[T any](ctx context.Context, operation func() (T, error), retryConfig *RetryConfig, logger logging.Logger) (T, error) {
	var zero T

	if retryConfig == nil {
		retryConfig = DefaultRetryConfig()
	} else if err := retryConfig.Validate(); err != nil {
		return zero, fmt.Errorf("invalid retry config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	var lastErr error
	delay := retryConfig.InitialDelay

	for attempt := 1; retryConfig.MaxRetries == 0 || attempt <= retryConfig.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if retryConfig.ShouldRetry != nil && !retryConfig.ShouldRetry(err, attempt) {
			return zero, err
		}
		if retryConfig.MaxRetries != 0 && attempt == retryConfig.MaxRetries {
			break
		}

		sleep := CalculateDelayWithJitter(delay, retryConfig.JitterFactor)
		if retryConfig.LogRetryAttempt {
			logger.Warnf("Attempt %d failed: %v. Retrying in %v...", attempt, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
			delay = CalculateNextDelay(delay, retryConfig.BackoffFactor, retryConfig.MaxDelay)
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("operation failed after %d attempts: %w", retryConfig.MaxRetries, lastErr)
}

// RetryFunc is Retry for operations that only return an error.
func RetryFunc(ctx context.Context, operation func() error, config *RetryConfig, logger logging.Logger) error {
	_, err := Retry(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, config, logger)
	return err
}
